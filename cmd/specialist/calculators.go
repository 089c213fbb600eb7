package main

import (
	"fmt"
	"math"
	"time"

	"genesis-ngx/internal/domain"
)

// Deterministic calculator methods. They answer from formulas alone, so a
// specialist stays useful for structured questions even when its text
// backend is down or over budget.

var tdeeSchema = []byte(`{
	"type": "object",
	"required": ["sex", "age", "height_cm", "weight_kg"],
	"properties": {
		"sex":            {"type": "string", "enum": ["male", "female"]},
		"age":            {"type": "integer", "minimum": 14, "maximum": 100},
		"height_cm":      {"type": "number", "minimum": 100, "maximum": 250},
		"weight_kg":      {"type": "number", "minimum": 30, "maximum": 300},
		"activity_level": {"type": "string", "enum": ["sedentary", "light", "moderate", "active", "very_active"]}
	}
}`)

var macroSchema = []byte(`{
	"type": "object",
	"required": ["calories", "weight_kg"],
	"properties": {
		"calories":  {"type": "number", "minimum": 800, "maximum": 10000},
		"weight_kg": {"type": "number", "minimum": 30, "maximum": 300},
		"goal":      {"type": "string", "enum": ["cut", "maintain", "bulk"]}
	}
}`)

var hrZonesSchema = []byte(`{
	"type": "object",
	"required": ["age"],
	"properties": {
		"age":        {"type": "integer", "minimum": 14, "maximum": 100},
		"resting_hr": {"type": "integer", "minimum": 30, "maximum": 120}
	}
}`)

var activityFactors = map[string]float64{
	"sedentary":   1.2,
	"light":       1.375,
	"moderate":    1.55,
	"active":      1.725,
	"very_active": 1.9,
}

// proteinPerKg is grams of protein per kg bodyweight by goal. Cutting keeps
// protein highest to spare lean mass.
var proteinPerKg = map[string]float64{
	"cut":      2.2,
	"maintain": 1.8,
	"bulk":     1.6,
}

// basalMetabolicRate uses the Mifflin-St Jeor equation.
func basalMetabolicRate(sex string, age int, heightCM, weightKG float64) float64 {
	bmr := 10*weightKG + 6.25*heightCM - 5*float64(age)
	if sex == "male" {
		return bmr + 5
	}
	return bmr - 161
}

func calculateTDEE(sex string, age int, heightCM, weightKG float64, activity string) (bmr, tdee float64) {
	factor, ok := activityFactors[activity]
	if !ok {
		factor = activityFactors["moderate"]
	}
	bmr = math.Round(basalMetabolicRate(sex, age, heightCM, weightKG))
	tdee = math.Round(bmr * factor)
	return bmr, tdee
}

// macroSplit fixes fat at 25% of calories, protein by goal, carbs with the
// remainder. Grams are rounded to whole numbers.
func macroSplit(calories, weightKG float64, goal string) (proteinG, fatG, carbsG float64) {
	perKg, ok := proteinPerKg[goal]
	if !ok {
		perKg = proteinPerKg["maintain"]
	}
	proteinG = math.Round(perKg * weightKG)
	fatG = math.Round(calories * 0.25 / 9)
	remaining := calories - proteinG*4 - fatG*9
	carbsG = math.Round(math.Max(remaining, 0) / 4)
	return proteinG, fatG, carbsG
}

type hrZone struct {
	Zone int `json:"zone"`
	Low  int `json:"low_bpm"`
	High int `json:"high_bpm"`
}

// heartRateZones returns five training zones at 50-100% intensity. With a
// resting heart rate the Karvonen reserve method applies; otherwise plain
// percentages of the age-predicted max (220 - age).
func heartRateZones(age, restingHR int) []hrZone {
	maxHR := 220 - age
	bounds := []float64{0.50, 0.60, 0.70, 0.80, 0.90, 1.00}

	at := func(pct float64) int {
		if restingHR > 0 {
			return int(math.Round(float64(restingHR) + pct*float64(maxHR-restingHR)))
		}
		return int(math.Round(pct * float64(maxHR)))
	}

	zones := make([]hrZone, 0, 5)
	for i := 0; i < 5; i++ {
		zones = append(zones, hrZone{Zone: i + 1, Low: at(bounds[i]), High: at(bounds[i+1])})
	}
	return zones
}

func (s *specialist) handleTDEE(params map[string]any) (*domain.InvocationResult, error) {
	sex := stringParam(params, "sex")
	age := intParam(params, "age")
	height := floatParam(params, "height_cm")
	weight := floatParam(params, "weight_kg")
	activity := stringParam(params, "activity_level")
	if activity == "" {
		activity = "moderate"
	}

	bmr, tdee := calculateTDEE(sex, age, height, weight, activity)
	return &domain.InvocationResult{
		AgentID: s.card.ID,
		Method:  "calculate_tdee",
		Response: fmt.Sprintf("Estimated BMR %.0f kcal, TDEE %.0f kcal at %s activity (Mifflin-St Jeor).",
			bmr, tdee, activity),
		Payload: map[string]any{
			"bmr_kcal":       bmr,
			"tdee_kcal":      tdee,
			"activity_level": activity,
		},
		Status:    domain.StatusSuccess,
		CreatedAt: time.Now(),
	}, nil
}

func (s *specialist) handleMacroSplit(params map[string]any) (*domain.InvocationResult, error) {
	calories := floatParam(params, "calories")
	weight := floatParam(params, "weight_kg")
	goal := stringParam(params, "goal")
	if goal == "" {
		goal = "maintain"
	}

	protein, fat, carbs := macroSplit(calories, weight, goal)
	return &domain.InvocationResult{
		AgentID: s.card.ID,
		Method:  "macro_split",
		Response: fmt.Sprintf("For %.0f kcal (%s): %.0f g protein, %.0f g fat, %.0f g carbs.",
			calories, goal, protein, fat, carbs),
		Payload: map[string]any{
			"protein_g": protein,
			"fat_g":     fat,
			"carbs_g":   carbs,
			"goal":      goal,
		},
		Status:    domain.StatusSuccess,
		CreatedAt: time.Now(),
	}, nil
}

func (s *specialist) handleHRZones(params map[string]any) (*domain.InvocationResult, error) {
	age := intParam(params, "age")
	resting := intParam(params, "resting_hr")

	zones := heartRateZones(age, resting)
	method := "percent of age-predicted max"
	if resting > 0 {
		method = "Karvonen heart-rate reserve"
	}
	payloadZones := make([]map[string]any, 0, len(zones))
	for _, z := range zones {
		payloadZones = append(payloadZones, map[string]any{
			"zone": z.Zone, "low_bpm": z.Low, "high_bpm": z.High,
		})
	}
	return &domain.InvocationResult{
		AgentID:  s.card.ID,
		Method:   "heart_rate_zones",
		Response: fmt.Sprintf("Five training zones computed via %s; zone 2 is %d-%d bpm.", method, zones[1].Low, zones[1].High),
		Payload: map[string]any{
			"zones":  payloadZones,
			"method": method,
		},
		Status:    domain.StatusSuccess,
		CreatedAt: time.Now(),
	}, nil
}

// Params arrive as decoded JSON, so numbers are float64. Schemas validate
// presence and range before these run; zero values only occur for optional
// fields.

func stringParam(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return v
}

func floatParam(params map[string]any, key string) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func intParam(params map[string]any, key string) int {
	return int(floatParam(params, key))
}
