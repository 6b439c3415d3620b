// Package internal 實現雙人即時「無嫉妒分配」解謎遊戲的房間服務。
//
// 玩家先連到大廳取得 token，再以 token 加入房間。房間內兩位玩家都準備好後，
// 伺服器產生一個保證有解的題目並廣播給雙方，先提交無嫉妒解答的玩家獲勝。
//
// # 房間管理
//
// Manager 是房間連線的登記處：
//   - Join：房間不存在時建立，玩家必須已在大廳註冊
//   - Leave：清除玩家的房間參照與準備狀態，廣播 notify_disconnect，
//     最後一位玩家離開時刪除房間與題目
//   - Handle：同一房間的訊息在房間鎖內依序處理與投遞
//
// # 協議
//
// 客戶端訊息格式 {action, csmr_data}，伺服器訊息格式 {action, client_data}。
// Router 以封閉的動作集合分派：
//   - load_context：廣播玩家列表，兩位玩家都準備好時接著廣播 load_instance
//   - set_ready：標記準備後重用 load_context
//   - check_solution：解出時廣播，否則只回給提交者
//
// 任何單一訊息的錯誤都轉成只送給發送者的 {action: "error"} 回應，
// 只有斷線會改變房間的成員狀態。
//
// # WebSocket 通訊
//
//   - GET /ws/menu：大廳
//   - GET /ws/room/{room_token}/{player_token}：房間
//
// 支援心跳檢測（Ping/Pong 54s/60s）、每條連線的訊息頻率限制、
// 同一玩家重新連線時以新連線取代舊連線。
//
// # 使用範例
//
//	st := store.NewMemory()
//	manager := internal.NewManager(st, allocation.NewRandomGenerator(), internal.NopPublisher{}, cfg.Game, logger)
//	hub := internal.NewWebSocketHub(manager, cfg.WebSocket, cfg.Game, logger)
//	handler := internal.NewHandler(manager, hub, logger)
//
//	log.Fatal(http.ListenAndServe(":8080", handler.Routes()))
//
// # 配置選項
//
// 配置來自 YAML 檔案（-config），命令列參數覆寫檔案：
//   - -port：服務監聽端口（預設 8080）
//   - -log-level：日誌級別（debug/info/warn/error）
//   - -log-format：日誌格式（text/json）
//   - -store：儲存後端（memory/postgres/redis）
package internal
