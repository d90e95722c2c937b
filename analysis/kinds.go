package analysis

import (
	"reflect"
	"strings"
	"text/template"

	"github.com/gutoaeraphe/roteirista-pro-app-sub000/entitlements"
)

type Kind string

const (
	Structure       Kind = "structure"
	HeroJourney     Kind = "hero_journey"
	CharacterArcs   Kind = "character_arcs"
	Representation  Kind = "representation"
	SWOT            Kind = "swot"
	MarketViability Kind = "market_viability"
	AudiencePersona Kind = "audience_persona"
	ConsultantChat  Kind = "consultant_chat"
)

// Definition describes one analysis: what it reads, what it must return
// and which allowance pays for it.
type Definition struct {
	Kind        Kind                  `json:"kind"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Resource    entitlements.Resource `json:"resource"`

	system    string
	prompt    *template.Template
	outType   reflect.Type
	newInput  func() any
	newOutput func() any
	finish    func(any)
}

func define[I, O any](kind Kind, title, desc string, res entitlements.Resource, system, prompt string, finish func(*O)) *Definition {
	return &Definition{
		Kind:        kind,
		Title:       title,
		Description: desc,
		Resource:    res,
		system:      system,
		prompt:      template.Must(template.New(string(kind)).Funcs(promptFuncs).Parse(prompt)),
		outType:     reflect.TypeOf((*O)(nil)).Elem(),
		newInput:    func() any { return new(I) },
		newOutput:   func() any { return new(O) },
		finish: func(out any) {
			if finish != nil {
				finish(out.(*O))
			}
		},
	}
}

var promptFuncs = template.FuncMap{
	"factors": func() string { return strings.Join(ViabilityFactors, ", ") },
}

const baseSystem = "Você é um consultor de roteiros experiente do mercado audiovisual brasileiro. " +
	"Responda sempre em português do Brasil e somente com um objeto JSON válido."

const scriptBlock = `Título: {{.Script.Title}}
Formato: {{.Script.Format}}{{if .Script.Genre}}
Gênero: {{.Script.Genre}}{{end}}

ROTEIRO:
{{.Script.Content}}`

var definitions = []*Definition{
	define[ScriptOnlyInput, StructureResult](Structure,
		"Estrutura narrativa",
		"Divisão em atos, pontos de virada e ritmo.",
		entitlements.Credits, baseSystem,
		`Analise a estrutura narrativa do roteiro abaixo. Avalie cada ato de 0 a 10 e identifique os pontos de virada.

`+scriptBlock,
		aggregateStructure),
	define[ScriptOnlyInput, HeroJourneyResult](HeroJourney,
		"Jornada do herói",
		"Aderência às doze etapas da jornada do herói.",
		entitlements.Credits, baseSystem,
		`Compare o roteiro abaixo com as doze etapas da jornada do herói. Para cada etapa diga se está presente e dê uma nota de 0 a 10.

`+scriptBlock,
		aggregateHeroJourney),
	define[CharacterArcsInput, CharacterArcsResult](CharacterArcs,
		"Arcos de personagem",
		"Desejo, necessidade e transformação dos personagens.",
		entitlements.Credits, baseSystem,
		`Analise os arcos de personagem do roteiro abaixo{{if .Characters}}, concentrando-se em: {{range $i, $c := .Characters}}{{if $i}}, {{end}}{{$c}}{{end}}{{else}}, concentrando-se no elenco principal{{end}}. Dê a cada arco uma nota de 0 a 10.

`+scriptBlock,
		nil),
	define[ScriptOnlyInput, RepresentationResult](Representation,
		"Representatividade",
		"Testes de representatividade como Bechdel, Vito Russo e DuVernay.",
		entitlements.Credits, baseSystem,
		`Aplique ao roteiro abaixo os testes de Bechdel, Vito Russo, DuVernay e Mako Mori. Para cada teste indique se passa, uma nota de 0 a 10 e a justificativa.

`+scriptBlock,
		aggregateRepresentation),
	define[SWOTInput, SWOTResult](SWOT,
		"Análise SWOT",
		"Forças, fraquezas, oportunidades e ameaças do projeto.",
		entitlements.Credits, baseSystem,
		`Faça uma análise SWOT do projeto audiovisual abaixo{{if .TargetMarket}} considerando o mercado {{.TargetMarket}}{{end}}.

`+scriptBlock,
		nil),
	define[MarketViabilityInput, MarketViabilityResult](MarketViability,
		"Viabilidade de mercado",
		"Nota de 1 a 5 em oito fatores de viabilidade comercial.",
		entitlements.Credits, baseSystem,
		`Avalie a viabilidade de mercado do roteiro abaixo{{if .Budget}} para um orçamento {{.Budget}}{{end}}{{if .Platform}} com lançamento em {{.Platform}}{{end}}. Dê uma nota de 1 a 5 para cada um destes oito fatores, nesta ordem: {{factors}}.

`+scriptBlock,
		aggregateMarketViability),
	define[AudiencePersonaInput, AudiencePersonaResult](AudiencePersona,
		"Teste de público",
		"Reação simulada de uma persona do público-alvo.",
		entitlements.Credits, baseSystem,
		`Assuma a persona abaixo e reaja ao roteiro como espectador.

Persona: {{.Persona.Name}}, {{.Persona.Age}} anos.
{{.Persona.Profile}}

`+scriptBlock,
		nil),
	define[ChatInput, ChatResult](ConsultantChat,
		"Consultor de roteiro",
		"Conversa livre com o consultor sobre o roteiro ativo.",
		entitlements.ChatMessages, baseSystem+` Use o campo "reply" para a resposta.`,
		`{{with .Script}}O usuário está trabalhando no roteiro abaixo.

Título: {{.Title}}
Formato: {{.Format}}{{if .Genre}}
Gênero: {{.Genre}}{{end}}

ROTEIRO:
{{.Content}}{{end}}`,
		nil),
}

var byKind = func() map[Kind]*Definition {
	m := make(map[Kind]*Definition, len(definitions))
	for _, d := range definitions {
		m[d.Kind] = d
	}
	return m
}()

// Lookup returns the definition for kind.
func Lookup(kind Kind) (*Definition, bool) {
	d, ok := byKind[kind]
	return d, ok
}

// Definitions lists every analysis in catalogue order.
func Definitions() []*Definition {
	out := make([]*Definition, len(definitions))
	copy(out, definitions)
	return out
}
