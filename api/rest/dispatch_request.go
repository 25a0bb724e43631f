package rest

import (
	"fmt"
	"strconv"
)

// DispatchRunRequest is the body of POST /v1/dispatch/run. When Number or Text
// is set the request is a direct send; otherwise it triggers a worker pass and
// the gateway fields act as credential overrides.
type DispatchRunRequest struct {
	Number string
	Group  string
	Text   string
	Base   string
	Token  string
	Path   string
}

func (r DispatchRunRequest) IsDirect() bool {
	return r.Number != "" || r.Text != ""
}

func ParseDispatchRunRequest(body map[string]any) DispatchRunRequest {
	return DispatchRunRequest{
		Number: Field(body, "number"),
		Group:  Field(body, "group"),
		Text:   Field(body, "text"),
		Base:   Field(body, "base"),
		Token:  Field(body, "token"),
		Path:   Field(body, "path"),
	}
}

type PollRequest struct {
	StatusPath string
}

func ParsePollRequest(body map[string]any) PollRequest {
	path := Field(body, "path")
	if path == "" {
		path = Field(body, "statusPath")
	}
	return PollRequest{StatusPath: path}
}

// Field reads a scalar body field as a string. Numbers keep their integer form.
func Field(body map[string]any, key string) string {
	switch v := body[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case map[string]any, []any:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
