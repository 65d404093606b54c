package camera

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"time"
)

var (
	// ErrNoCamera は利用可能なカメラが見つからないことを表す
	ErrNoCamera = errors.New("利用可能なカメラが見つかりません")
	// ErrNoFrame はキャプチャできるフレームがないことを表す
	ErrNoFrame = errors.New("フレームがありません")
	// ErrReadFailed はデバイスからの読み込み失敗を表す
	ErrReadFailed = errors.New("フレームの読み込みに失敗")
)

// Backend はキャプチャAPIの種類を表す
type Backend int

const (
	// BackendDefault はAPIを指定せずに開くことを表す
	BackendDefault Backend = iota
	BackendAny
	BackendAVFoundation
	BackendDirectShow
	BackendMSMF
	BackendV4L2
)

func (b Backend) String() string {
	switch b {
	case BackendDefault:
		return "default"
	case BackendAny:
		return "any"
	case BackendAVFoundation:
		return "avfoundation"
	case BackendDirectShow:
		return "dshow"
	case BackendMSMF:
		return "msmf"
	case BackendV4L2:
		return "v4l2"
	default:
		return "unknown"
	}
}

// OS はバックエンド選択に使うOSの種類
type OS string

const (
	OSMac     OS = "darwin"
	OSWindows OS = "windows"
	OSLinux   OS = "linux"
)

// CurrentOS は実行中のOSを返す
func CurrentOS() OS {
	return OS(runtime.GOOS)
}

// SystemName は /list_cameras で返すOS名
func (o OS) SystemName() string {
	switch o {
	case OSMac:
		return "Darwin"
	case OSWindows:
		return "Windows"
	case OSLinux:
		return "Linux"
	case "":
		return ""
	default:
		s := string(o)
		return strings.ToUpper(s[:1]) + s[1:]
	}
}

// Candidate は探索で見つかったカメラの候補
type Candidate struct {
	Index   int
	Backend Backend
	Width   int
	Height  int
	Works   bool   // 1フレーム読み込めたかどうか
	Name    string // 取得できた場合のみ
}

// Area は解像度の面積を返す
func (c Candidate) Area() int {
	return c.Width * c.Height
}

// State はカメラのライフサイクル状態
type State int

const (
	StateUninitialized State = iota // デバイスを保持していない
	StateOpenInactive               // デバイスは開いているが配信していない
	StateOpenActive                 // 配信中
)

func (s State) String() string {
	switch s {
	case StateOpenInactive:
		return "open_inactive"
	case StateOpenActive:
		return "open_active"
	default:
		return "uninitialized"
	}
}

// Frame はデバイスから読み込んだ1枚の画像
type Frame interface {
	// Empty は画像データがないときにtrueを返す
	Empty() bool
	// Mirror は左右反転した新しいフレームを返す
	Mirror() (Frame, error)
	// EncodeJPEG は指定品質でJPEGにエンコードする
	EncodeJPEG(quality int) ([]byte, error)
	Close() error
}

// Device は開いているキャプチャデバイス
// Read と Close は別のゴルーチンから同時に呼ばれても安全でなければならない
type Device interface {
	Read() (Frame, error)
	// Configure は解像度とフレームレートを設定する。失敗してもデバイスは使える
	Configure(width, height, fps int) error
	Size() (width, height int)
	Backend() Backend
	Close() error
}

// Opener はインデックスとバックエンドを指定してデバイスを開く
type Opener interface {
	Open(index int, backend Backend) (Device, error)
}

// Event はカメラの状態変化の通知
type Event struct {
	Type      string    `json:"type"` // started または stopped
	Index     int       `json:"index"`
	Backend   string    `json:"backend,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	EventStarted = "started"
	EventStopped = "stopped"
)

// Notifier はカメラの状態変化を受け取る
type Notifier interface {
	NotifyCamera(ev Event)
}

// StartResult は Start の結果
type StartResult struct {
	Message        string
	Index          int
	AlreadyRunning bool
}

// Manager はカメラのライフサイクルを管理するインターフェース
type Manager interface {
	// Init はカメラを自動検出して開く。既に開いていれば何もしない
	Init(ctx context.Context) error

	// Start はカメラを開いて配信可能にする。index が nil なら自動検出する
	Start(ctx context.Context, index *int) (StartResult, error)

	// Stop は配信を止めてカメラを解放する
	Stop(ctx context.Context) error

	// Release はカメラを解放する。何度呼んでもよい
	Release()

	// State は現在の状態を返す
	State() State

	// Stream はMJPEGのチャンクを流すチャンネルを返す
	Stream(ctx context.Context) (<-chan []byte, error)

	// Snapshot は最新フレームのJPEGを返す
	Snapshot(ctx context.Context) ([]byte, error)

	// ListCameras は利用可能なカメラを探索する
	ListCameras(ctx context.Context) []Candidate

	// System はOS名を返す
	System() string
}
