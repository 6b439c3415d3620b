// Package allocation 產生並驗證「局部無嫉妒分配」（local envy-free allocation）題目。
//
// 問題模型
//
// 一個題目有 N 個參與者（actor）與 N 個物品（object）。每個參與者對所有物品有一個
// 完整的偏好順序（由最喜歡到最不喜歡）。參與者排成一條路徑（path topology）：
// 參與者 a 的鄰居只有 a-1 與 a+1（端點只有一個鄰居）。
//
// 一個分配以「名次」表示：solution[a] 是參與者 a 在自己偏好順序中拿到的位置。
// 若參與者 a 把某個鄰居拿到的物品排在自己拿到的物品之前，a 就會嫉妒該鄰居。
// 沒有任何相鄰參與者互相嫉妒的分配即為解答。
//
// 產生演算法
//
// 為了保證題目一定有解，先隨機決定一個目標分配，再依照目標分配反推偏好順序：
//
//  1. 將物品隨機洗牌，得到目標分配 objects[a]。
//  2. 為每個參與者隨機選一個名次 k：端點從 {0..N-2} 選，中間點從 {0..N-3} 選。
//  3. 排在目標物品之前的 k 個物品，只能從「非自己、非鄰居」的物品中挑選；
//     鄰居的目標物品一律排在自己的目標物品之後。
//
// 因此在目標分配下，沒有任何參與者會嫉妒鄰居，但同一題目仍可能有其他解答。
//
// 驗證
//
// CheckSolution 是純函式：它只讀取題目狀態，不會修改 SolvedBy 或 Solution。
// 呼叫端在驗證成功後，必須以單一原子操作寫入解題者（MarkSolved），且只能寫入一次。
package allocation
