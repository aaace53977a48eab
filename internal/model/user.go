// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// emailで一意に識別され、委任アクセス用のリフレッシュ資格情報を保持する。
type User struct {
	ID                string
	Email             string
	Name              string
	Picture           string
	RefreshCredential string // ログアウト後は空
	Events            []Event
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasCredential はリフレッシュ資格情報が保存されているかを返す。
func (u *User) HasCredential() bool {
	return u != nil && u.RefreshCredential != ""
}

// Profile はセッション資格情報に埋め込むユーザー識別情報のスナップショット。
type Profile struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
}
