// Package server は、HTTPサーバーとWebSocket通信を管理します。
//
// このパッケージは、HTTPサーバーの起動、ルーティング、
// カメラ映像のMJPEG配信、画像のアップロードと推定結果の表示を担当します。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - カメラの起動、停止、一覧とMJPEGストリーミング
//   - アップロード画像とキャプチャ画像の推定と結果画面の表示
//   - 推定履歴のJSON API（OpenAPI定義でリクエストを検証）
//   - イベントバスからのイベントをWebSocketで配信
//
// 仕様:
//   - ルーティングはGinを使用
//   - WebSocketはgorilla/websocketを使用
//   - シャットダウン時は必ずカメラを解放する
package server
