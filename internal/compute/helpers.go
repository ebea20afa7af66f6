package compute

import (
	"encoding/json"
	"io"

	"github.com/docker/docker/api/types/filters"
)

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}

func workspaceFilter() filters.Args {
	return filters.NewArgs(filters.Arg("label", workspaceLabel+"=true"))
}
