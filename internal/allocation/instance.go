package allocation

import (
	"fmt"
	"slices"
	"time"

	apperrors "github.com/koopa0/system-design/14-envy-free-duel/pkg/errors"
)

// DefaultSize 預設題目大小（參與者數 = 物品數）
const DefaultSize = 5

// MinSize 最小題目大小
const MinSize = 2

// PreferenceOrder 單一參與者的偏好順序
//
// Values 是 0..N-1 的一個排列，Values[0] 為最喜歡的物品。
type PreferenceOrder struct {
	Actor  int   `json:"index"`
	Values []int `json:"values"`
}

// Rank 回傳物品在偏好順序中的名次，找不到時回傳 -1
func (p PreferenceOrder) Rank(object int) int {
	return slices.Index(p.Values, object)
}

// Instance 一個題目及其解題狀態
//
// 不變量：SolvedBy 一旦被設定，題目即不可再變更。
type Instance struct {
	ID        int64
	Size      int
	Prefs     []PreferenceOrder // 依 Actor 遞增排序
	SolvedBy  string            // 空字串表示尚未解出
	Solution  Solution
	CreatedAt time.Time
	SolvedAt  time.Time
}

// Solved 題目是否已被解出
func (inst *Instance) Solved() bool {
	return inst.SolvedBy != ""
}

// Values 依參與者順序回傳所有偏好順序
func (inst *Instance) Values() [][]int {
	values := make([][]int, len(inst.Prefs))
	for i, p := range inst.Prefs {
		values[i] = slices.Clone(p.Values)
	}
	return values
}

// SortPrefs 依參與者索引排序偏好順序
//
// 從儲存層讀回的資料不保證順序，驗證前必須先排序。
func (inst *Instance) SortPrefs() {
	slices.SortFunc(inst.Prefs, func(a, b PreferenceOrder) int {
		return a.Actor - b.Actor
	})
}

// Clone 深拷貝題目
func (inst *Instance) Clone() *Instance {
	cp := *inst
	cp.Prefs = make([]PreferenceOrder, len(inst.Prefs))
	for i, p := range inst.Prefs {
		cp.Prefs[i] = PreferenceOrder{Actor: p.Actor, Values: slices.Clone(p.Values)}
	}
	cp.Solution = slices.Clone(inst.Solution)
	return &cp
}

// Validate 檢查題目的結構不變量
func (inst *Instance) Validate() error {
	if inst.Size < MinSize {
		return fmt.Errorf("instance size %d below minimum %d", inst.Size, MinSize)
	}
	if len(inst.Prefs) != inst.Size {
		return fmt.Errorf("instance has %d preference orders, want %d", len(inst.Prefs), inst.Size)
	}

	for i, p := range inst.Prefs {
		if p.Actor != i {
			return fmt.Errorf("preference order %d has actor index %d", i, p.Actor)
		}
		if !isPermutation(p.Values, inst.Size) {
			return fmt.Errorf("preference order of actor %d is not a permutation of 0..%d", i, inst.Size-1)
		}
	}

	if inst.Solved() && len(inst.Solution) != inst.Size {
		return fmt.Errorf("solved instance has solution of length %d", len(inst.Solution))
	}
	return nil
}

// MarkSolved 記錄解題者與解答（只能成功一次）
func (inst *Instance) MarkSolved(playerToken string, sol Solution, at time.Time) error {
	if inst.Solved() {
		return apperrors.ErrAlreadySolved
	}
	if playerToken == "" {
		return apperrors.ErrInvalidInput.WithDetails("empty solver token")
	}

	inst.SolvedBy = playerToken
	inst.Solution = slices.Clone(sol)
	inst.SolvedAt = at
	return nil
}

// TimeToSolution 從出題到解出所經過的秒數
func (inst *Instance) TimeToSolution() int {
	if !inst.Solved() || inst.CreatedAt.IsZero() {
		return 0
	}
	return int(inst.SolvedAt.Sub(inst.CreatedAt) / time.Second)
}

// View 題目序列化格式
//
// 尚未解出的題目不輸出解題欄位。
type View struct {
	Size           int     `json:"size"`
	Values         [][]int `json:"values"`
	SolvedBy       *string `json:"solved_by,omitempty"`
	Solution       []int   `json:"solution,omitempty"`
	TimeToSolution *int    `json:"time_to_solution,omitempty"`
}

// View 將題目轉為可傳送給客戶端的格式
func (inst *Instance) View() View {
	v := View{
		Size:   inst.Size,
		Values: inst.Values(),
	}
	if inst.Solved() {
		solvedBy := inst.SolvedBy
		elapsed := inst.TimeToSolution()
		v.SolvedBy = &solvedBy
		v.Solution = slices.Clone(inst.Solution)
		v.TimeToSolution = &elapsed
	}
	return v
}

// Neighbors 回傳路徑拓撲上參與者 a 的鄰居
func Neighbors(a, n int) []int {
	switch {
	case n < 2:
		return nil
	case a == 0:
		return []int{1}
	case a == n-1:
		return []int{n - 2}
	default:
		return []int{a - 1, a + 1}
	}
}

func isPermutation(values []int, n int) bool {
	if len(values) != n {
		return false
	}
	seen := make([]bool, n)
	for _, v := range values {
		if v < 0 || v >= n || seen[v] {
			return false
		}
		seen[v] = true
	}
	return true
}
