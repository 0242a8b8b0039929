package domain

import (
	"testing"
	"time"

	meteringdomain "github.com/smallbiznis/pawtrack/internal/metering/domain"
	"github.com/stretchr/testify/assert"
)

func validate(r Record) []string {
	verr := meteringdomain.NewValidationError()
	r.Validate(verr)
	fields := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		fields = append(fields, f.Field)
	}
	return fields
}

func TestRecordValidation(t *testing.T) {
	base := Base{PetID: 42, TimeRecorded: time.Date(2025, 4, 10, 8, 0, 0, 0, time.UTC)}
	score := 11

	tests := []struct {
		name   string
		record Record
		want   []string
	}{
		{name: "feeding ok", record: &Feeding{Base: base, FoodAmount: "1 cup", FoodType: "dry", Brand: "Acme", MoodRating: 3}},
		{name: "feeding empty", record: &Feeding{}, want: []string{"petId", "timeRecorded", "foodAmount", "foodType", "brand", "moodRating"}},
		{name: "pain score missing", record: &PainScore{Base: base}, want: []string{"score"}},
		{name: "pain score out of range", record: &PainScore{Base: base, Score: &score}, want: []string{"score"}},
		{name: "water zero", record: &Water{Base: base}, want: []string{"amountMl"}},
		{name: "medication blank", record: &Medication{Base: base, Name: "  "}, want: []string{"name", "dosage"}},
		{name: "seizure severity", record: &Seizure{Base: base, DurationSeconds: 40, Severity: "MILD"}},
		{name: "seizure unknown severity", record: &Seizure{Base: base, DurationSeconds: 40, Severity: "huge"}, want: []string{"severity"}},
		{name: "vitals empty", record: &VitalSign{Base: base}, want: []string{"vitals"}},
		{name: "vitals heart rate", record: &VitalSign{Base: base, HeartRate: 90}},
		{name: "movement score", record: &Movement{Base: base, Activity: "stairs", MobilityScore: 9}, want: []string{"mobilityScore"}},
		{name: "walk", record: &Walk{Base: base, DurationMinutes: 30, DistanceKm: 2.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ElementsMatch(t, tt.want, validate(tt.record))
		})
	}
}

func TestSeizureSeverityNormalized(t *testing.T) {
	s := &Seizure{Base: Base{PetID: 1, TimeRecorded: time.Now()}, DurationSeconds: 10, Severity: " Severe "}
	assert.Empty(t, validate(s))
	assert.Equal(t, "severe", s.Severity)
	assert.Equal(t, "severe", s.Metadata()["severity"])
}

func TestKindActions(t *testing.T) {
	assert.Equal(t, "pain_score.create", KindPainScore.CreateAction())
	assert.Equal(t, "walk.delete", KindWalk.DeleteAction())
	assert.Len(t, Models(), len(Kinds()))
	for i, m := range Models() {
		assert.Equal(t, Kinds()[i], m.(Record).Kind())
	}
}
