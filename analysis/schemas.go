package analysis

import "errors"

// ScriptInput is the script every analysis reads.
type ScriptInput struct {
	Title   string `json:"title" validate:"required,max=255"`
	Format  string `json:"format" validate:"required,oneof=feature short series other"`
	Genre   string `json:"genre" validate:"max=255"`
	Content string `json:"content" validate:"required,max=600000"`
}

// ScriptOnlyInput is used by kinds that take no extra parameters.
type ScriptOnlyInput struct {
	Script ScriptInput `json:"script"`
}

type CharacterArcsInput struct {
	Script ScriptInput `json:"script"`
	// Characters narrows the analysis; empty means the main cast.
	Characters []string `json:"characters,omitempty" validate:"max=10,dive,required,max=100"`
}

type SWOTInput struct {
	Script       ScriptInput `json:"script"`
	TargetMarket string      `json:"target_market,omitempty" validate:"max=255"`
}

type MarketViabilityInput struct {
	Script   ScriptInput `json:"script"`
	Budget   string      `json:"budget,omitempty" validate:"omitempty,oneof=micro low medium high"`
	Platform string      `json:"platform,omitempty" validate:"max=100"`
}

type Persona struct {
	Name    string `json:"name" validate:"required,max=100"`
	Age     int    `json:"age" validate:"gte=10,lte=100"`
	Profile string `json:"profile" validate:"required,max=2000"`
}

type AudiencePersonaInput struct {
	Script  ScriptInput `json:"script"`
	Persona Persona     `json:"persona"`
}

type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required,max=8000"`
}

// ChatInput carries the whole conversation on every call; the invoker
// keeps no history of its own.
type ChatInput struct {
	Script   *ScriptInput  `json:"script,omitempty"`
	Messages []ChatMessage `json:"messages" validate:"required,min=1,max=40,dive"`
}

func (in *ChatInput) check() error {
	if in.Messages[len(in.Messages)-1].Role != "user" {
		return errors.New("last message must come from the user")
	}
	return nil
}

type ActScore struct {
	Name    string  `json:"name" validate:"required"`
	Summary string  `json:"summary" validate:"required"`
	Score   float64 `json:"score" validate:"gte=0,lte=10"`
}

type PlotPoint struct {
	Name        string `json:"name" validate:"required"`
	Position    string `json:"position"`
	Description string `json:"description" validate:"required"`
}

type StructureResult struct {
	Acts         []ActScore  `json:"acts" validate:"required,min=1,max=8,dive"`
	PlotPoints   []PlotPoint `json:"plot_points" validate:"dive"`
	Strengths    []string    `json:"strengths" validate:"dive,required"`
	Weaknesses   []string    `json:"weaknesses" validate:"dive,required"`
	OverallScore float64     `json:"overall_score"`
}

type JourneyStage struct {
	Name        string  `json:"name" validate:"required"`
	Present     bool    `json:"present"`
	Description string  `json:"description"`
	Score       float64 `json:"score" validate:"gte=0,lte=10"`
}

type HeroJourneyResult struct {
	Stages         []JourneyStage `json:"stages" validate:"required,min=1,max=12,dive"`
	Summary        string         `json:"summary" validate:"required"`
	AdherenceScore float64        `json:"adherence_score"`
}

type CharacterArc struct {
	Name  string  `json:"name" validate:"required"`
	Role  string  `json:"role"`
	Want  string  `json:"want"`
	Need  string  `json:"need"`
	Start string  `json:"start"`
	End   string  `json:"end"`
	Arc   string  `json:"arc" validate:"required"`
	Score float64 `json:"score" validate:"gte=0,lte=10"`
}

type CharacterArcsResult struct {
	Characters []CharacterArc `json:"characters" validate:"required,min=1,dive"`
	Summary    string         `json:"summary" validate:"required"`
}

type RepresentationTest struct {
	Name          string  `json:"name" validate:"required"`
	Passed        bool    `json:"passed"`
	Score         float64 `json:"score" validate:"gte=0,lte=10"`
	Justification string  `json:"justification" validate:"required"`
}

type RepresentationResult struct {
	Tests        []RepresentationTest `json:"tests" validate:"required,min=1,dive"`
	Notes        string               `json:"notes"`
	OverallScore float64              `json:"overall_score"`
}

type SWOTResult struct {
	Strengths     []string `json:"strengths" validate:"required,min=1,dive,required"`
	Weaknesses    []string `json:"weaknesses" validate:"required,min=1,dive,required"`
	Opportunities []string `json:"opportunities" validate:"required,min=1,dive,required"`
	Threats       []string `json:"threats" validate:"required,min=1,dive,required"`
	Summary       string   `json:"summary" validate:"required"`
}

type ViabilityFactor struct {
	Name          string  `json:"name" validate:"required"`
	Score         float64 `json:"score" validate:"gte=1,lte=5"`
	Justification string  `json:"justification" validate:"required"`
}

// MarketViabilityResult scores the eight viability factors listed in
// ViabilityFactors.
type MarketViabilityResult struct {
	Factors      []ViabilityFactor `json:"factors" validate:"required,len=8,dive"`
	Verdict      string            `json:"verdict" validate:"required"`
	Comparables  []string          `json:"comparables" validate:"dive,required"`
	OverallScore float64           `json:"overall_score"`
}

type AudiencePersonaResult struct {
	Reaction       string   `json:"reaction" validate:"required"`
	Engagement     float64  `json:"engagement" validate:"gte=0,lte=10"`
	Likes          []string `json:"likes" validate:"dive,required"`
	Dislikes       []string `json:"dislikes" validate:"dive,required"`
	WouldRecommend bool     `json:"would_recommend"`
	Quote          string   `json:"quote"`
}

type ChatResult struct {
	Reply string `json:"reply" validate:"required"`
}

// ViabilityFactors are the factors a market viability result must score.
var ViabilityFactors = []string{
	"Originalidade",
	"Apelo comercial",
	"Clareza do público-alvo",
	"Viabilidade de orçamento",
	"Potencial de distribuição",
	"Alinhamento com tendências",
	"Atratividade para elenco",
	"Potencial de franquia",
}
