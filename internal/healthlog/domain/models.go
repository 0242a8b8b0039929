package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	meteringdomain "github.com/smallbiznis/pawtrack/internal/metering/domain"
)

// Record is implemented by the pointer of every health record model.
type Record interface {
	Kind() Kind
	Header() *Base
	// Validate appends problems with the record payload to verr.
	Validate(verr *meteringdomain.ValidationError)
	Metadata() map[string]any
}

// Base holds the columns every record shares.
type Base struct {
	ID           snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"id"`
	PetID        snowflake.ID `gorm:"not null;index" json:"petId"`
	TimeRecorded time.Time    `gorm:"not null;index" json:"timeRecorded"`
	Notes        string       `gorm:"type:text;not null;default:''" json:"notes,omitempty"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"createdAt"`
}

func (b *Base) Header() *Base { return b }

func (b *Base) validate(verr *meteringdomain.ValidationError) {
	if b.PetID == 0 {
		verr.Add("petId", "is required")
	}
	if b.TimeRecorded.IsZero() {
		verr.Add("timeRecorded", "is required")
	}
}

func (b *Base) metadata() map[string]any {
	return map[string]any{
		"record_id":     b.ID.String(),
		"pet_id":        b.PetID.String(),
		"time_recorded": b.TimeRecorded.UTC().Format(time.RFC3339),
	}
}

func required(verr *meteringdomain.ValidationError, field, value string) {
	if strings.TrimSpace(value) == "" {
		verr.Add(field, "is required")
	}
}

type Feeding struct {
	Base
	FoodAmount string `gorm:"type:text;not null" json:"foodAmount"`
	FoodType   string `gorm:"type:text;not null" json:"foodType"`
	Brand      string `gorm:"type:text;not null" json:"brand"`
	MoodRating int    `gorm:"not null" json:"moodRating"`
}

func (Feeding) TableName() string { return "feedings" }
func (*Feeding) Kind() Kind { return KindFeeding }

func (f *Feeding) Validate(verr *meteringdomain.ValidationError) {
	f.Base.validate(verr)
	required(verr, "foodAmount", f.FoodAmount)
	required(verr, "foodType", f.FoodType)
	required(verr, "brand", f.Brand)
	if f.MoodRating < 1 || f.MoodRating > 5 {
		verr.Add("moodRating", "must be between 1 and 5")
	}
}

func (f *Feeding) Metadata() map[string]any {
	m := f.Base.metadata()
	m["food_type"] = f.FoodType
	m["food_amount"] = f.FoodAmount
	m["brand"] = f.Brand
	m["mood_rating"] = f.MoodRating
	return m
}

type PainScore struct {
	Base
	Score    *int   `gorm:"not null" json:"score"`
	Location string `gorm:"type:text;not null;default:''" json:"location,omitempty"`
}

func (PainScore) TableName() string { return "pain_scores" }
func (*PainScore) Kind() Kind { return KindPainScore }

func (p *PainScore) Validate(verr *meteringdomain.ValidationError) {
	p.Base.validate(verr)
	switch {
	case p.Score == nil:
		verr.Add("score", "is required")
	case *p.Score < 0 || *p.Score > 10:
		verr.Add("score", "must be between 0 and 10")
	}
}

func (p *PainScore) Metadata() map[string]any {
	m := p.Base.metadata()
	if p.Score != nil {
		m["score"] = *p.Score
	}
	return m
}

type Water struct {
	Base
	AmountML float64 `gorm:"not null" json:"amountMl"`
}

func (Water) TableName() string { return "water_intakes" }
func (*Water) Kind() Kind { return KindWater }

func (w *Water) Validate(verr *meteringdomain.ValidationError) {
	w.Base.validate(verr)
	if w.AmountML <= 0 {
		verr.Add("amountMl", "must be greater than 0")
	}
}

func (w *Water) Metadata() map[string]any {
	m := w.Base.metadata()
	m["amount_ml"] = w.AmountML
	return m
}

type Medication struct {
	Base
	Name   string `gorm:"type:text;not null" json:"name"`
	Dosage string `gorm:"type:text;not null" json:"dosage"`
}

func (Medication) TableName() string { return "medications" }
func (*Medication) Kind() Kind { return KindMedication }

func (m *Medication) Validate(verr *meteringdomain.ValidationError) {
	m.Base.validate(verr)
	required(verr, "name", m.Name)
	required(verr, "dosage", m.Dosage)
}

func (m *Medication) Metadata() map[string]any {
	md := m.Base.metadata()
	md["name"] = m.Name
	md["dosage"] = m.Dosage
	return md
}

var seizureSeverities = map[string]struct{}{"mild": {}, "moderate": {}, "severe": {}}

type Seizure struct {
	Base
	DurationSeconds int    `gorm:"not null" json:"durationSeconds"`
	Severity        string `gorm:"type:text;not null" json:"severity"`
}

func (Seizure) TableName() string { return "seizures" }
func (*Seizure) Kind() Kind { return KindSeizure }

func (s *Seizure) Validate(verr *meteringdomain.ValidationError) {
	s.Base.validate(verr)
	if s.DurationSeconds <= 0 {
		verr.Add("durationSeconds", "must be greater than 0")
	}
	s.Severity = strings.ToLower(strings.TrimSpace(s.Severity))
	if _, ok := seizureSeverities[s.Severity]; !ok {
		verr.Add("severity", "must be one of mild, moderate, severe")
	}
}

func (s *Seizure) Metadata() map[string]any {
	m := s.Base.metadata()
	m["duration_seconds"] = s.DurationSeconds
	m["severity"] = s.Severity
	return m
}

type VitalSign struct {
	Base
	HeartRate       int     `gorm:"not null;default:0" json:"heartRate,omitempty"`
	RespiratoryRate int     `gorm:"not null;default:0" json:"respiratoryRate,omitempty"`
	TemperatureC    float64 `gorm:"not null;default:0" json:"temperatureC,omitempty"`
}

func (VitalSign) TableName() string { return "vital_signs" }
func (*VitalSign) Kind() Kind { return KindVitalSign }

func (v *VitalSign) Validate(verr *meteringdomain.ValidationError) {
	v.Base.validate(verr)
	if v.HeartRate < 0 || v.RespiratoryRate < 0 || v.TemperatureC < 0 {
		verr.Add("vitals", "must not be negative")
	} else if v.HeartRate == 0 && v.RespiratoryRate == 0 && v.TemperatureC == 0 {
		verr.Add("vitals", "at least one of heartRate, respiratoryRate, temperatureC is required")
	}
}

func (v *VitalSign) Metadata() map[string]any {
	m := v.Base.metadata()
	m["heart_rate"] = v.HeartRate
	m["respiratory_rate"] = v.RespiratoryRate
	m["temperature_c"] = v.TemperatureC
	return m
}

type Movement struct {
	Base
	Activity      string `gorm:"type:text;not null" json:"activity"`
	MobilityScore int    `gorm:"not null" json:"mobilityScore"`
}

func (Movement) TableName() string { return "movements" }
func (*Movement) Kind() Kind { return KindMovement }

func (m *Movement) Validate(verr *meteringdomain.ValidationError) {
	m.Base.validate(verr)
	required(verr, "activity", m.Activity)
	if m.MobilityScore < 1 || m.MobilityScore > 5 {
		verr.Add("mobilityScore", "must be between 1 and 5")
	}
}

func (m *Movement) Metadata() map[string]any {
	md := m.Base.metadata()
	md["activity"] = m.Activity
	md["mobility_score"] = m.MobilityScore
	return md
}

type Walk struct {
	Base
	DurationMinutes int     `gorm:"not null" json:"durationMinutes"`
	DistanceKm      float64 `gorm:"not null;default:0" json:"distanceKm,omitempty"`
}

func (Walk) TableName() string { return "walks" }
func (*Walk) Kind() Kind { return KindWalk }

func (w *Walk) Validate(verr *meteringdomain.ValidationError) {
	w.Base.validate(verr)
	if w.DurationMinutes <= 0 {
		verr.Add("durationMinutes", "must be greater than 0")
	}
	if w.DistanceKm < 0 {
		verr.Add("distanceKm", "must not be negative")
	}
}

func (w *Walk) Metadata() map[string]any {
	m := w.Base.metadata()
	m["duration_minutes"] = w.DurationMinutes
	m["distance_km"] = w.DistanceKm
	return m
}
