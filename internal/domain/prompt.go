package domain

import (
	"encoding/json"
	"fmt"
)

// PromptRole orders prompt pieces: system → user → query.
type PromptRole string

const (
	PromptSystem PromptRole = "system"
	PromptUser   PromptRole = "user"
	PromptQuery  PromptRole = "query"
)

// PromptSource names where a prompt piece is materialized from.
type PromptSource string

const (
	SourceStatic     PromptSource = "static"
	SourceSlot       PromptSource = "slot"
	SourceAction     PromptSource = "action"
	SourceHistory    PromptSource = "history"
	SourceTag        PromptSource = "tag"
	SourceCrud       PromptSource = "crud"
	SourceBotContent PromptSource = "bot_content"
)

// QuerySource selects where a crud prompt takes its query from.
type QuerySource string

const (
	QueryFromValue QuerySource = "value"
	QueryFromSlot  QuerySource = "slot"
)

// CrudConfig configures a crud prompt: a similarity query against one or
// more collections.
type CrudConfig struct {
	Collections []string        `json:"collections" yaml:"collections"`
	QuerySource QuerySource     `json:"query_source" yaml:"query_source"`
	Query       json.RawMessage `json:"query" yaml:"query"` // JSON object for value, slot name string for slot.
}

// PromptHyperparams bounds similarity retrieval for crud/bot_content prompts.
type PromptHyperparams struct {
	TopResults          int     `json:"top_results,omitempty" yaml:"top_results,omitempty"`
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty" yaml:"similarity_threshold,omitempty"`
}

// LlmPrompt is one piece of a prompt action's prompt.
type LlmPrompt struct {
	Name            string            `json:"name" yaml:"name"`
	Type            PromptRole        `json:"type" yaml:"type"`
	Source          PromptSource      `json:"source" yaml:"source"`
	Data            string            `json:"data,omitempty" yaml:"data,omitempty"`
	Instructions    string            `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	CrudConfig      *CrudConfig       `json:"crud_config,omitempty" yaml:"crud_config,omitempty"`
	Hyperparameters PromptHyperparams `json:"hyperparameters,omitempty" yaml:"hyperparameters,omitempty"`
}

// Validate checks the prompt piece against the retrieval bounds.
func (p LlmPrompt) Validate() error {
	switch p.Type {
	case PromptSystem, PromptUser, PromptQuery:
	default:
		return fmt.Errorf("prompt %q: unknown type %q", p.Name, p.Type)
	}
	switch p.Source {
	case SourceStatic, SourceSlot, SourceAction, SourceHistory, SourceTag, SourceBotContent:
	case SourceCrud:
		if p.CrudConfig == nil {
			return fmt.Errorf("prompt %q: crud source requires crud_config", p.Name)
		}
		switch p.CrudConfig.QuerySource {
		case QueryFromValue:
			var obj map[string]any
			if err := json.Unmarshal(p.CrudConfig.Query, &obj); err != nil {
				return fmt.Errorf("prompt %q: crud query must be a JSON object: %w", p.Name, err)
			}
		case QueryFromSlot:
			var slot string
			if err := json.Unmarshal(p.CrudConfig.Query, &slot); err != nil || slot == "" {
				return fmt.Errorf("prompt %q: crud query must be a slot name string", p.Name)
			}
		default:
			return fmt.Errorf("prompt %q: unknown query_source %q", p.Name, p.CrudConfig.QuerySource)
		}
		if len(p.CrudConfig.Collections) == 0 {
			return fmt.Errorf("prompt %q: crud source requires collections", p.Name)
		}
	default:
		return fmt.Errorf("prompt %q: unknown source %q", p.Name, p.Source)
	}
	if p.Hyperparameters.TopResults < 0 || p.Hyperparameters.TopResults > 30 {
		return fmt.Errorf("prompt %q: top_results must be within [0, 30]", p.Name)
	}
	if t := p.Hyperparameters.SimilarityThreshold; t != 0 && (t < 0.3 || t > 1) {
		return fmt.Errorf("prompt %q: similarity_threshold must be within [0.3, 1]", p.Name)
	}
	return nil
}

// PromptSetSlot computes a slot value from the LLM completion.
type PromptSetSlot struct {
	Name           string         `json:"name" yaml:"name"`
	Value          string         `json:"value" yaml:"value"`
	EvaluationType EvaluationType `json:"evaluation_type,omitempty" yaml:"evaluation_type,omitempty"`
}

// MaxNumBotResponses caps the history window of a prompt action.
const MaxNumBotResponses = 5

// PromptAction is an action whose output is the completion of a structured
// prompt sent to an LLM.
type PromptAction struct {
	Name             string          `json:"name" yaml:"name"`
	LLMType          string          `json:"llm_type" yaml:"llm_type"`
	Hyperparameters  map[string]any  `json:"hyperparameters,omitempty" yaml:"hyperparameters,omitempty"`
	Prompts          []LlmPrompt     `json:"llm_prompts" yaml:"llm_prompts"`
	Instructions     []string        `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	SetSlots         []PromptSetSlot `json:"set_slots,omitempty" yaml:"set_slots,omitempty"`
	FailureMsg       string          `json:"failure_message,omitempty" yaml:"failure_message,omitempty"`
	NumBotResponses  int             `json:"num_bot_responses,omitempty" yaml:"num_bot_responses,omitempty"`
	UserQuestion     bool            `json:"user_question" yaml:"user_question"`
	ProcessMedia     bool            `json:"process_media" yaml:"process_media"`
	DispatchResponse bool            `json:"dispatch_response" yaml:"dispatch_response"`
}

func (p *PromptAction) Kind() Kind             { return KindPrompt }
func (p *PromptAction) failureMessage() string { return p.FailureMsg }

// Validate checks the prompt action bounds and pieces.
func (p *PromptAction) Validate() error {
	if len(p.Prompts) == 0 {
		return fmt.Errorf("prompt action: llm_prompts is required")
	}
	if p.NumBotResponses < 0 || p.NumBotResponses > MaxNumBotResponses {
		return fmt.Errorf("prompt action: num_bot_responses must be within [0, %d]", MaxNumBotResponses)
	}
	for _, piece := range p.Prompts {
		if err := piece.Validate(); err != nil {
			return err
		}
	}
	for _, s := range p.SetSlots {
		if !slotNameRe.MatchString(s.Name) {
			return fmt.Errorf("prompt action: set_slot name %q must be lowercase alphanumeric or underscore", s.Name)
		}
	}
	return nil
}
