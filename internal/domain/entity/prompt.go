package entity

type Prompt struct {
	ID   string `yaml:"id"`
	Text string `yaml:"text"`
}

const generatorPrompt = "You are a helpful software architect agent. You can produce high-quality PlantUML class diagram syntax. " +
	"But sometimes you may make mistakes. If you make a mistake, the head architect will fix those."

const criticPrompt = "You are the head architect of a software company and expert in PlantUML syntax and modeling. " +
	"Analyze the PlantUML code, identify if any component is missing in the software architecture and fix those issues. " +
	"Identify any syntax issue in the PlantUML code and fix those issues. " +
	"Keep every class, attribute and relation that is already present."

var GeneratorPrompt = Prompt{
	ID:   "generator",
	Text: generatorPrompt,
}

var CriticPrompt = Prompt{
	ID:   "critic",
	Text: criticPrompt,
}

var RendererPrompt = Prompt{
	ID:   "renderer",
	Text: "You are a helpful AI assistant.",
}

// PromptSet holds the system persona of every agent.
type PromptSet struct {
	Generator Prompt `yaml:"generator"`
	Critic    Prompt `yaml:"critic"`
	Renderer  Prompt `yaml:"renderer"`
}

func DefaultPrompts() PromptSet {
	return PromptSet{
		Generator: GeneratorPrompt,
		Critic:    CriticPrompt,
		Renderer:  RendererPrompt,
	}
}

// Merge returns p with every empty prompt text filled from fallback.
func (p PromptSet) Merge(fallback PromptSet) PromptSet {
	if p.Generator.Text == "" {
		p.Generator = fallback.Generator
	}
	if p.Critic.Text == "" {
		p.Critic = fallback.Critic
	}
	if p.Renderer.Text == "" {
		p.Renderer = fallback.Renderer
	}
	return p
}

func GeneratorUserTurn(requirement string) string {
	return "Software requirement: " + requirement
}

func CriticUserTurn(draft string) string {
	return "Draft copy:\n" + draft
}
