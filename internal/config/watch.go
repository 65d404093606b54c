package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce はエディタの連続書き込みをまとめるための待機時間
const reloadDebounce = 100 * time.Millisecond

// OnChange は設定ファイルが再読み込みされたときのコールバックを登録する
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

// Watch は設定ファイルの変更を監視する
// ctx がキャンセルされると監視を終了する。エラーは onError に渡される
func (c *Config) Watch(ctx context.Context, onError func(error)) error {
	if c.path == "" {
		return errors.New("設定ファイルが指定されていません")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("監視の開始に失敗: %w", err)
	}
	if err := watcher.Add(c.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("設定ファイルの監視に失敗: %w", err)
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					time.Sleep(reloadDebounce)
					if err := c.reload(); err != nil && onError != nil {
						onError(err)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(err)
				}
			}
		}
	}()

	return nil
}

// reload は設定ファイルを読み直し、実行中に変更可能な項目だけを反映する
func (c *Config) reload() error {
	next, err := Load(c.path)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.Logging = next.Logging
	watchers := append([]func(*Config){}, c.watchers...)
	c.mu.Unlock()

	for _, fn := range watchers {
		fn(c)
	}
	return nil
}
