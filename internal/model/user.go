package model

import "time"

// User 用户模型，UserID 即实时通道中的房间名
type User struct {
	UserID       string    `json:"userId" db:"user_id"`
	Name         string    `json:"name" db:"name"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// UserSummary 在线列表中展示的用户信息
type UserSummary struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}
