// Package jokes is a joke generator that fans out one branch per subject.
//
// A router node decides whether the user asked for a joke at all. If so,
// generate_subjects picks a few subjects related to the topic, one
// generate_joke branch runs per subject in the same superstep, and
// select_best_joke picks the winner once every branch has joined.
package jokes

import (
	"fmt"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/prompt"
	"github.com/randalmurphal/agentgraph/pkg/agents"
)

// Node names.
const (
	NodeDecideRoute      = "decide_joke_route"
	NodeReject           = "reject_joke_request"
	NodeGenerateSubjects = "generate_subjects"
	NodeGenerateJoke     = "generate_joke"
	NodeSelectBest       = "select_best_joke"
	NodeTellBest         = "tell_best_joke"
)

// State fields besides the conversation.
const (
	RouteKey    = "joke_route"
	SubjectsKey = "subjects"
	SubjectKey  = "subject"
	JokesKey    = "jokes"
	BestJokeKey = "best_joke"
)

// Router decisions.
const (
	RouteGenerate = "generate_joke"
	RouteReject   = "reject_joke_request"
)

// RejectionText is the reply to anything that is not a joke request.
const RejectionText = "Sorry, I only do joke generation. Please try again."

var (
	routerPrompt = prompt.New("joke_router", `You are a router that decides if a user is asking for a joke.

Instructions:
- If the message is clearly a request for a joke, route to "generate_joke".
- For anything else (e.g., questions, facts, opinions), route to "reject_joke_request".

Return a JSON object with a single key: "route".

Message: "${last_message}"`)

	topicPrompt = prompt.New("extract_topic", `Extract the joke topic from the below message. The topic should be a short phrase or word.

Message:
${message}`)

	subjectsPrompt = prompt.New("generate_subjects",
		`Generate comma separated list of between 2 to 5 subjects related to: ${topic}`)

	jokePrompt = prompt.New("generate_joke", `Generate a joke about ${subject}`)

	bestJokePrompt = prompt.New("select_best_joke", `You're an expert at selecting the funniest jokes.

Below are a bunch of jokes. Select the best joke by returning the index of the best joke, starting with 0.

Jokes:
${jokes}`)
)

var (
	routeTool = llm.Tool{
		Name:        "RouteOutput",
		Description: "Route to follow based on user intent.",
		Parameters: llm.MustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"route": map[string]any{
					"type": "string",
					"enum": []string{RouteGenerate, RouteReject},
					"description": "Use 'generate_joke' if the user is asking for a joke. " +
						"Use 'reject_joke_request' for anything else.",
				},
			},
			"required": []string{"route"},
		}),
	}

	subjectsTool = llm.Tool{
		Name:        "Subjects",
		Description: "Joke subjects related to the topic.",
		Parameters: llm.MustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"subjects": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "List of between 2 to 5 joke subjects related to the topic.",
				},
			},
			"required": []string{"subjects"},
		}),
	}

	jokeTool = llm.Tool{
		Name:        "Joke",
		Description: "A joke about the subject.",
		Parameters: llm.MustSchema(map[string]any{
			"type":       "object",
			"properties": map[string]any{"joke": map[string]any{"type": "string"}},
			"required":   []string{"joke"},
		}),
	}

	bestJokeTool = llm.Tool{
		Name:        "BestJokeId",
		Description: "Index of the best joke, starting with 0.",
		Parameters: llm.MustSchema(map[string]any{
			"type":       "object",
			"properties": map[string]any{"id": map[string]any{"type": "integer"}},
			"required":   []string{"id"},
		}),
	}
)

// Schema returns the agent's state schema. The jokes list is resettable so
// a second request in the same thread starts from an empty list.
func Schema() *agentgraph.Schema {
	return agentgraph.NewSchema(
		agents.MessagesField(),
		agentgraph.ReplaceField[string](RouteKey),
		agentgraph.ReplaceField[[]string](SubjectsKey),
		agentgraph.ReplaceField[string](SubjectKey),
		agentgraph.ResettableField[string](JokesKey),
		agentgraph.ReplaceField[string](BestJokeKey),
	)
}

// New builds the joke generator graph.
func New() (*agentgraph.Graph, error) {
	g := agentgraph.NewGraph(Schema()).
		AddNode(NodeDecideRoute, decideRoute).
		AddNode(NodeReject, reject).
		AddNode(NodeGenerateSubjects, generateSubjects).
		AddNode(NodeGenerateJoke, generateJoke).
		AddNode(NodeSelectBest, selectBest).
		AddNode(NodeTellBest, tellBest).
		AddConditionalEdge(NodeDecideRoute, shouldGenerate, NodeGenerateSubjects, NodeReject).
		AddConditionalEdge(NodeGenerateSubjects, continueToJokes, NodeGenerateJoke).
		AddEdge(NodeGenerateJoke, NodeSelectBest).
		AddEdge(NodeSelectBest, NodeTellBest).
		AddEdge(NodeTellBest, agentgraph.END).
		AddEdge(NodeReject, agentgraph.END).
		SetEntry(NodeDecideRoute)
	return g, nil
}

func system(text string) llm.CompletionRequest {
	return llm.CompletionRequest{Messages: []llm.Message{llm.SystemMessage(text)}}
}

func decideRoute(ctx agentgraph.Context, s agentgraph.State) (agentgraph.Command, error) {
	last, err := agents.LastMessage(s)
	if err != nil {
		return agentgraph.Command{}, err
	}
	text, err := routerPrompt.Render(map[string]any{"last_message": last.Content})
	if err != nil {
		return agentgraph.Command{}, err
	}

	var out struct {
		Route string `json:"route"`
	}
	if err := agents.Structured(ctx, system(text), routeTool, &out); err != nil {
		return agentgraph.Command{}, err
	}
	return agentgraph.Update(agentgraph.State{RouteKey: out.Route}), nil
}

func shouldGenerate(_ agentgraph.Context, s agentgraph.State) (agentgraph.Route, error) {
	switch route := agentgraph.Get[string](s, RouteKey); route {
	case RouteGenerate:
		return agentgraph.To(NodeGenerateSubjects), nil
	case RouteReject:
		return agentgraph.To(NodeReject), nil
	default:
		return agentgraph.Route{}, fmt.Errorf("unknown joke route %q", route)
	}
}

func reject(_ agentgraph.Context, _ agentgraph.State) (agentgraph.Command, error) {
	return agentgraph.Update(agents.Say(llm.AssistantMessage(RejectionText))), nil
}

func generateSubjects(ctx agentgraph.Context, s agentgraph.State) (agentgraph.Command, error) {
	last, err := agents.LastMessage(s)
	if err != nil {
		return agentgraph.Command{}, err
	}

	text, err := topicPrompt.Render(map[string]any{"message": last.Content})
	if err != nil {
		return agentgraph.Command{}, err
	}
	topic, err := agents.Complete(ctx, system(text))
	if err != nil {
		return agentgraph.Command{}, err
	}

	text, err = subjectsPrompt.Render(map[string]any{"topic": topic.Content})
	if err != nil {
		return agentgraph.Command{}, err
	}
	var out struct {
		Subjects []string `json:"subjects"`
	}
	if err := agents.Structured(ctx, system(text), subjectsTool, &out); err != nil {
		return agentgraph.Command{}, err
	}

	feedback := llm.AssistantMessage(fmt.Sprintf(
		"I will generate jokes about %s, and then tell you the best one.", topic.Content))

	update := agents.Say(feedback)
	update[SubjectsKey] = out.Subjects
	update[JokesKey] = agentgraph.Reset[string]()
	return agentgraph.Update(update), nil
}

// continueToJokes spawns one generate_joke branch per subject.
func continueToJokes(_ agentgraph.Context, s agentgraph.State) (agentgraph.Route, error) {
	subjects := agentgraph.Get[[]string](s, SubjectsKey)
	sends := make([]agentgraph.Send, len(subjects))
	for i, subject := range subjects {
		sends[i] = agentgraph.Send{Node: NodeGenerateJoke, Input: agentgraph.State{SubjectKey: subject}}
	}
	return agentgraph.Fanout(sends...), nil
}

func generateJoke(ctx agentgraph.Context, s agentgraph.State) (agentgraph.Command, error) {
	text, err := jokePrompt.Render(map[string]any{"subject": agentgraph.Get[string](s, SubjectKey)})
	if err != nil {
		return agentgraph.Command{}, err
	}
	var out struct {
		Joke string `json:"joke"`
	}
	if err := agents.Structured(ctx, system(text), jokeTool, &out); err != nil {
		return agentgraph.Command{}, err
	}
	return agentgraph.Update(agentgraph.State{JokesKey: agentgraph.Append(out.Joke)}), nil
}

func selectBest(ctx agentgraph.Context, s agentgraph.State) (agentgraph.Command, error) {
	jokes := agentgraph.Items[string](s, JokesKey)
	text, err := bestJokePrompt.Render(map[string]any{"jokes": jokes})
	if err != nil {
		return agentgraph.Command{}, err
	}
	var out struct {
		ID int `json:"id"`
	}
	if err := agents.Structured(ctx, system(text), bestJokeTool, &out); err != nil {
		return agentgraph.Command{}, err
	}
	if out.ID < 0 || out.ID >= len(jokes) {
		return agentgraph.Command{}, fmt.Errorf("best joke index %d out of range for %d jokes", out.ID, len(jokes))
	}
	return agentgraph.Update(agentgraph.State{BestJokeKey: jokes[out.ID]}), nil
}

func tellBest(_ agentgraph.Context, s agentgraph.State) (agentgraph.Command, error) {
	return agentgraph.Update(agents.Say(llm.AssistantMessage(agentgraph.Get[string](s, BestJokeKey)))), nil
}
