package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// BeforeCreate assigns ids client-side so the same models run on postgres and sqlite.
func (u *User) BeforeCreate(*gorm.DB) error {
	ensureID(&u.ID)
	return nil
}

func (c *Company) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

func (m *Membership) BeforeCreate(*gorm.DB) error {
	ensureID(&m.ID)
	return nil
}

func (s *Subscription) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

func (p *Plan) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

func (o *OutboxEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// All lists every persisted model; tests use it for AutoMigrate.
func All() []any {
	return []any{
		&User{},
		&Company{},
		&Membership{},
		&Plan{},
		&Subscription{},
		&OutboxEvent{},
	}
}
