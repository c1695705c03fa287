package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/p-blackswan/policy-agent/internal/llm"
)

// WebSearch is the search stand-in offered to the fact-check model. It does
// not reach the network; the answer tells the model no live results exist.
type WebSearch struct{}

func (WebSearch) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        WebSearchName,
		Description: "Search the web for current information",
		InputSchema: SchemaFor[WebSearchArgs](),
	}
}

func (WebSearch) Execute(_ context.Context, input json.RawMessage) (string, error) {
	args, err := DecodeArgs(WebSearchName, input)
	if err != nil {
		return "", err
	}
	q := args.(WebSearchArgs).Query
	return fmt.Sprintf("検索結果: \"%s\"に関する情報です。これはモックの検索結果です。実際の実装では、ここで本物の検索結果が返されます。", q), nil
}
