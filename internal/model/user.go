// Package model holds the persisted data types.
package model

import "time"

// User is a registered chatbot user. The same struct maps to the Mongo "users"
// collection and the SQL "users" table.
type User struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)" bson:"_id" json:"id"`
	UserName     string    `gorm:"column:user_name;type:varchar(100);not null" bson:"userName" json:"userName"`
	Email        string    `gorm:"type:varchar(200);uniqueIndex;not null" bson:"email" json:"email"`
	PasswordHash string    `gorm:"column:password_hash;type:varchar(255);not null" bson:"password_hash" json:"-"`
	CreatedAt    time.Time `gorm:"index" bson:"created_at" json:"createdAt"`
}

func (User) TableName() string {
	return "users"
}
