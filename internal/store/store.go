// Package store sqlite 持久化: 设备白名单与锁定历史
package store

import (
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/Hara602/inputSentry/internal/sysutil"
)

const schema = `
CREATE TABLE IF NOT EXISTS whitelist (
	path TEXT PRIMARY KEY,
	name TEXT,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS lock_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	action TEXT NOT NULL,
	source TEXT NOT NULL,
	at INTEGER NOT NULL,
	held_ms INTEGER NOT NULL DEFAULT 0
);
`

// 历史记录动作
const (
	ActionLocked   = "locked"
	ActionUnlocked = "unlocked"
)

type WhitelistEntry struct {
	Path    string    `json:"path"`
	Name    string    `json:"name"`
	AddedAt time.Time `json:"addedAt"`
}

type HistoryEntry struct {
	Action string        `json:"action"`
	Source string        `json:"source"`
	At     time.Time     `json:"timestamp"`
	Held   time.Duration `json:"-"`
}

type Statistics struct {
	TotalLocked time.Duration  `json:"-"`
	Sessions    int            `json:"lockCount"`
	Recent      []HistoryEntry `json:"history"`
}

type Store struct {
	db *sql.DB

	mu    sync.RWMutex
	white map[string]bool
}

// Open 打开或创建数据库, ":memory:" 用于测试
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite 单写者, 同时保证 :memory: 只有一个连接
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	s := &Store{db: db, white: make(map[string]bool)}
	if err := s.loadWhitelist(); err != nil {
		db.Close()
		return nil, err
	}
	sysutil.Log.Debug("Store opened", zap.String("path", dbPath), zap.Int("whitelisted", len(s.white)))
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) loadWhitelist() error {
	rows, err := s.db.Query("SELECT path FROM whitelist")
	if err != nil {
		return fmt.Errorf("failed to load whitelist: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return err
		}
		s.white[p] = true
	}
	return rows.Err()
}

// Excluded 批量锁定时跳过白名单设备, 走内存缓存
func (s *Store) Excluded(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.white[path]
}

func (s *Store) AddWhitelist(path, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO whitelist(path, name, created_at) VALUES (?, ?, ?)",
		path, name, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("add %s to whitelist: %w", path, err)
	}
	s.white[path] = true
	return nil
}

func (s *Store) RemoveWhitelist(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("DELETE FROM whitelist WHERE path = ?", path); err != nil {
		return fmt.Errorf("remove %s from whitelist: %w", path, err)
	}
	delete(s.white, path)
	return nil
}

// Whitelist 按路径排序
func (s *Store) Whitelist() ([]WhitelistEntry, error) {
	rows, err := s.db.Query("SELECT path, COALESCE(name, ''), created_at FROM whitelist")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WhitelistEntry
	for rows.Next() {
		var e WhitelistEntry
		var at int64
		if err := rows.Scan(&e.Path, &e.Name, &at); err != nil {
			return nil, err
		}
		e.AddedAt = time.Unix(at, 0)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, rows.Err()
}

// RecordLock 整体从未锁定变为锁定
func (s *Store) RecordLock(source string, at time.Time) error {
	_, err := s.db.Exec(
		"INSERT INTO lock_history(action, source, at) VALUES (?, ?, ?)",
		ActionLocked, source, at.UnixMilli(),
	)
	return err
}

// RecordUnlock 整体解除锁定, held 为本次锁定持续时间
func (s *Store) RecordUnlock(source string, held time.Duration, at time.Time) error {
	_, err := s.db.Exec(
		"INSERT INTO lock_history(action, source, at, held_ms) VALUES (?, ?, ?, ?)",
		ActionUnlocked, source, at.UnixMilli(), held.Milliseconds(),
	)
	return err
}

// Statistics recent 条最新历史, 新的在前
func (s *Store) Statistics(recent int) (Statistics, error) {
	var st Statistics
	var heldMs int64
	err := s.db.QueryRow(
		"SELECT COALESCE(SUM(held_ms), 0), COALESCE(SUM(CASE WHEN action = ? THEN 1 ELSE 0 END), 0) FROM lock_history",
		ActionLocked,
	).Scan(&heldMs, &st.Sessions)
	if err != nil {
		return st, err
	}
	st.TotalLocked = time.Duration(heldMs) * time.Millisecond

	rows, err := s.db.Query(
		"SELECT action, source, at, held_ms FROM lock_history ORDER BY id DESC LIMIT ?",
		recent,
	)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var e HistoryEntry
		var at, held int64
		if err := rows.Scan(&e.Action, &e.Source, &at, &held); err != nil {
			return st, err
		}
		e.At = time.UnixMilli(at)
		e.Held = time.Duration(held) * time.Millisecond
		st.Recent = append(st.Recent, e)
	}
	return st, rows.Err()
}
