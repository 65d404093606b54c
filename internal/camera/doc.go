// Package camera Webカメラの探索とライフサイクル管理を担う
//
// # 責務
// - インデックスを順に開いて動作するカメラを探索する
// - OSごとの経験則で内蔵カメラを選ぶ
// - プロセスで唯一のカメラデバイスを開く・閉じる
// - MJPEGチャンクを配信する
//
// # 仕様
// - Discoverer: [0, MaxIndex) を開き、1フレーム読めたものを候補にする。開いたデバイスはすべて閉じる
// - SelectBuiltin: macOS は index 1、Windows と Linux は index 0、なければ最大解像度
// - DefaultManager: 状態は UNINITIALIZED / OPEN_INACTIVE / OPEN_ACTIVE の3つ
// - 共有状態（デバイス、配信フラグ、最新フレーム）は1つのミューテックスで保護する
// - 探索とデバイスI/Oはロックの外で行う
// - 配信ゴルーチンは読み込みの前に毎回、配信フラグとデバイスの同一性を確認する
// - 配信の終了ではデバイスを解放しない。解放は Stop と Release だけが行う
//
// デバイスへのアクセスは Opener を通して行う。OpenCVによる実装は camera/opencv にある。
// デバイスI/Oにタイムアウトはないため、ドライバーが応答しないと呼び出し元のゴルーチンは待ち続ける。
package camera
