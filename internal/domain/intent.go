package domain

// Intent is a classified category of user need.
type Intent string

const (
	IntentFitnessStrength   Intent = "fitness_strength"
	IntentFitnessCardio     Intent = "fitness_cardio"
	IntentFitnessMobility   Intent = "fitness_mobility"
	IntentFitnessRecovery   Intent = "fitness_recovery"
	IntentNutritionMacros   Intent = "nutrition_macros"
	IntentNutritionStrategy Intent = "nutrition_strategy"
	IntentSupplementation   Intent = "supplementation"
	IntentBehavior          Intent = "behavior"
	IntentMotivation        Intent = "motivation"
	IntentProgressTracking  Intent = "progress_tracking"
	IntentWomensHealth      Intent = "womens_health"
	IntentEducation         Intent = "education"
	IntentGenetics          Intent = "genetics"
	IntentEmergency         Intent = "emergency"
	IntentGeneralChat       Intent = "general_chat"
)

// IntentClassification is the result of classifying one user message.
// Produced fresh per message and never mutated.
type IntentClassification struct {
	Primary              Intent   `json:"primary_intent"`
	Confidence           float64  `json:"confidence"`
	Secondary            []Intent `json:"secondary_intents,omitempty"`
	AgentsNeeded         []string `json:"agents_needed"`
	IsEmergency          bool     `json:"is_emergency"`
	RequiresHumanHandoff bool     `json:"requires_human_handoff"`
	Reasoning            string   `json:"reasoning"`
}
