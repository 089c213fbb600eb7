package usecase

import (
	"fmt"
	"sort"
	"strings"

	"genesis-ngx/internal/domain"
)

// intentRule binds one intent to its trigger phrases and the specialists
// able to answer it. Table declaration order is the tie-break order.
type intentRule struct {
	intent   domain.Intent
	agents   []string
	triggers []string
}

// intentTable is the fixed classification table. Trigger phrases are
// lowercase and matched as substrings; the product ships bilingual
// (Spanish-first), so both languages appear throughout.
var intentTable = []intentRule{
	{
		intent: domain.IntentFitnessStrength,
		agents: []string{"blaze"},
		triggers: []string{
			"fuerza", "músculo", "musculo", "ganar masa", "hipertrofia",
			"levantar pesas", "sentadilla", "peso muerto", "press de banca",
			"strength", "muscle", "hypertrophy", "lift", "squat", "deadlift",
			"bench press", "bulking",
		},
	},
	{
		intent: domain.IntentFitnessCardio,
		agents: []string{"blaze"},
		triggers: []string{
			"cardio", "correr", "resistencia", "maratón", "maraton", "vo2",
			"running", "endurance", "ciclismo", "cycling", "hiit", "sprint",
		},
	},
	{
		intent: domain.IntentFitnessMobility,
		agents: []string{"wave"},
		triggers: []string{
			"movilidad", "flexibilidad", "estiramiento", "mobility",
			"flexibility", "stretching", "rango de movimiento", "range of motion",
		},
	},
	{
		intent: domain.IntentFitnessRecovery,
		agents: []string{"wave"},
		triggers: []string{
			"recuperación", "recuperacion", "descanso", "dormir", "sueño",
			"agujetas", "recovery", "rest day", "sleep", "sore", "soreness",
			"fatiga", "fatigue", "sobreentrenamiento", "overtraining",
		},
	},
	{
		intent: domain.IntentNutritionMacros,
		agents: []string{"sage"},
		triggers: []string{
			"macros", "proteína", "proteina", "carbohidratos", "calorías",
			"calorias", "protein", "carbs", "calories", "tdee", "déficit",
			"deficit", "superávit", "surplus", "grasas", "fats",
		},
	},
	{
		intent: domain.IntentNutritionStrategy,
		agents: []string{"sage"},
		triggers: []string{
			"dieta", "ayuno", "plan de comidas", "diet", "fasting",
			"meal plan", "keto", "vegano", "vegan", "nutrición", "nutricion",
			"nutrition plan",
		},
	},
	{
		intent: domain.IntentSupplementation,
		agents: []string{"nova"},
		triggers: []string{
			"suplemento", "creatina", "supplement", "creatine", "cafeína",
			"cafeina", "caffeine", "omega 3", "vitamina", "vitamin",
			"pre-entreno", "pre-workout",
		},
	},
	{
		intent: domain.IntentBehavior,
		agents: []string{"spark"},
		triggers: []string{
			"hábito", "habito", "constancia", "adherencia", "habit",
			"consistency", "adherence", "procrastin", "disciplina", "discipline",
		},
	},
	{
		intent: domain.IntentMotivation,
		agents: []string{"spark"},
		triggers: []string{
			"motivación", "motivacion", "desanimado", "desmotivado",
			"motivation", "motivated", "no tengo ganas", "give up", "rendirme",
		},
	},
	{
		intent: domain.IntentProgressTracking,
		agents: []string{"stella"},
		triggers: []string{
			"progreso", "medidas", "estancado", "progress", "plateau",
			"measurements", "tracking", "seguimiento", "métricas", "metricas",
		},
	},
	{
		intent: domain.IntentWomensHealth,
		agents: []string{"luna"},
		triggers: []string{
			"ciclo menstrual", "menstruación", "menstruacion", "menopausia",
			"embarazo", "menstrual", "menopause", "pregnancy", "perimenopausia",
			"perimenopause", "hormonal",
		},
	},
	{
		intent: domain.IntentEducation,
		agents: []string{"nova"},
		triggers: []string{
			"por qué", "explica", "qué es", "que es", "cómo funciona",
			"como funciona", "why does", "explain", "what is", "how does",
			"aprende", "learn",
		},
	},
	{
		intent: domain.IntentGenetics,
		agents: []string{"code"},
		triggers: []string{
			"genética", "genetica", "adn", "genetics", "dna", "genotipo",
			"genotype", "polimorfismo", "polymorphism",
		},
	},
}

// emergencyTriggers force an immediate safety halt: the message is never
// routed to a specialist, only to the fixed safety response.
var emergencyTriggers = []string{
	"dolor de pecho", "no puedo respirar", "me quiero morir", "suicid",
	"desmay", "infarto", "sobredosis",
	"chest pain", "can't breathe", "cannot breathe", "heart attack",
	"overdose", "kill myself", "passing out",
}

// injectionTriggers mark prompt-injection attempts. The message is answered
// as general chat and must never be forwarded verbatim to a specialist.
var injectionTriggers = []string{
	"ignore all previous instructions", "ignore previous instructions",
	"disregard your instructions", "disregard all previous",
	"ignora las instrucciones", "olvida tus instrucciones",
	"you are now", "system prompt",
}

// phiTriggers mark protected-health-information disclosure. Classification
// proceeds, but the turn requires human handoff regardless of topic.
var phiTriggers = []string{
	"diagnos", "prescription", "receta médica", "receta medica",
	"medical record", "historial médico", "historial medico",
	"ssn", "social security", "patient", "paciente",
}

// maxSecondaryIntents bounds the secondary list; beyond three the extra
// matches add noise, not signal.
const maxSecondaryIntents = 3

// ClassifyIntent maps a raw user message to an IntentClassification.
// Pure function: same message, same result. Safety short-circuits are
// evaluated before any topic matching.
func ClassifyIntent(message string) domain.IntentClassification {
	lower := strings.ToLower(message)

	// Emergency beats everything else.
	if phrase := firstMatch(lower, emergencyTriggers); phrase != "" {
		return domain.IntentClassification{
			Primary:      domain.IntentEmergency,
			Confidence:   1.0,
			AgentsNeeded: []string{},
			IsEmergency:  true,
			Reasoning:    fmt.Sprintf("emergency phrase detected: %q", phrase),
		}
	}

	// Prompt-injection attempts are answered as general chat and flagged.
	if phrase := firstMatch(lower, injectionTriggers); phrase != "" {
		return domain.IntentClassification{
			Primary:      domain.IntentGeneralChat,
			Confidence:   1.0,
			AgentsNeeded: []string{},
			Reasoning:    fmt.Sprintf("prompt injection attempt rejected: %q", phrase),
		}
	}

	handoff := firstMatch(lower, phiTriggers) != ""

	// Score every intent by distinct trigger matches.
	type scored struct {
		rule    intentRule
		order   int
		matches int
	}
	var hits []scored
	for i, rule := range intentTable {
		n := 0
		for _, trig := range rule.triggers {
			if strings.Contains(lower, trig) {
				n++
			}
		}
		if n > 0 {
			hits = append(hits, scored{rule: rule, order: i, matches: n})
		}
	}

	if len(hits) == 0 {
		reasoning := "no intent triggers matched"
		if handoff {
			reasoning += "; PHI disclosure detected, human handoff required"
		}
		return domain.IntentClassification{
			Primary:              domain.IntentGeneralChat,
			Confidence:           0.3,
			AgentsNeeded:         []string{},
			RequiresHumanHandoff: handoff,
			Reasoning:            reasoning,
		}
	}

	// Highest match count wins; ties go to earlier table declaration.
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].matches != hits[j].matches {
			return hits[i].matches > hits[j].matches
		}
		return hits[i].order < hits[j].order
	})

	primary := hits[0]
	var secondary []domain.Intent
	agents := append([]string{}, primary.rule.agents...)
	for _, h := range hits[1:] {
		if len(secondary) < maxSecondaryIntents {
			secondary = append(secondary, h.rule.intent)
		}
		agents = appendUnique(agents, h.rule.agents...)
	}

	reasoning := fmt.Sprintf("matched %d trigger(s) for %s", primary.matches, primary.rule.intent)
	if handoff {
		reasoning += "; PHI disclosure detected, human handoff required"
	}

	return domain.IntentClassification{
		Primary:              primary.rule.intent,
		Confidence:           matchConfidence(primary.matches),
		Secondary:            secondary,
		AgentsNeeded:         agents,
		RequiresHumanHandoff: handoff,
		Reasoning:            reasoning,
	}
}

// matchConfidence maps a distinct-match count to [0,1]. Deterministic by
// construction: confidence here is a reproducible match-strength score,
// not a model probability.
func matchConfidence(matches int) float64 {
	conf := 0.45 + 0.15*float64(matches)
	if conf > 0.95 {
		return 0.95
	}
	return conf
}

// firstMatch returns the first phrase contained in lower, or "".
func firstMatch(lower string, phrases []string) string {
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return p
		}
	}
	return ""
}

// appendUnique appends values not already present, preserving order.
func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		seen := false
		for _, have := range dst {
			if have == v {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, v)
		}
	}
	return dst
}
