package domain

// Kind describes one health record type: its action names, route segment and
// the key its entity is returned under.
type Kind struct {
	Resource string
	Route    string
	JSONKey  string
	Label    string
}

func (k Kind) CreateAction() string { return k.Resource + ".create" }
func (k Kind) DeleteAction() string { return k.Resource + ".delete" }

var (
	KindFeeding    = Kind{Resource: "feeding", Route: "feedings", JSONKey: "feeding", Label: "Feeding"}
	KindPainScore  = Kind{Resource: "pain_score", Route: "pain-scores", JSONKey: "painScore", Label: "Pain score"}
	KindWater      = Kind{Resource: "water", Route: "water", JSONKey: "water", Label: "Water intake"}
	KindMedication = Kind{Resource: "medication", Route: "medications", JSONKey: "medication", Label: "Medication"}
	KindSeizure    = Kind{Resource: "seizure", Route: "seizures", JSONKey: "seizure", Label: "Seizure"}
	KindVitalSign  = Kind{Resource: "vital_sign", Route: "vital-signs", JSONKey: "vitalSign", Label: "Vital signs"}
	KindMovement   = Kind{Resource: "movement", Route: "movements", JSONKey: "movement", Label: "Movement"}
	KindWalk       = Kind{Resource: "walk", Route: "walks", JSONKey: "walk", Label: "Walk"}
)

func Kinds() []Kind {
	return []Kind{
		KindFeeding,
		KindPainScore,
		KindWater,
		KindMedication,
		KindSeizure,
		KindVitalSign,
		KindMovement,
		KindWalk,
	}
}

// Models returns one zero value per record table, for migrations.
func Models() []any {
	return []any{
		&Feeding{},
		&PainScore{},
		&Water{},
		&Medication{},
		&Seizure{},
		&VitalSign{},
		&Movement{},
		&Walk{},
	}
}
