package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Pet struct {
	ID         snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"id"`
	GuardianID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_pets_guardian_slug,priority:1" json:"guardianId"`
	Name       string       `gorm:"type:text;not null" json:"name"`
	Species    string       `gorm:"type:text;not null;default:''" json:"species"`
	Slug       string       `gorm:"type:text;not null;uniqueIndex:ux_pets_guardian_slug,priority:2" json:"slug"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"createdAt"`
}

func (Pet) TableName() string { return "pets" }
