package fetch

import (
	"bytes"
	"encoding/json"
)

func decodeJSON(body []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	return dec.Decode(out)
}
