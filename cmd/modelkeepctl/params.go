package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// listQuery encodes the non-empty parameters into a query string.
func listQuery(params map[string]string) string {
	q := url.Values{}
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	return q.Encode()
}

// intParam renders a positive int for listQuery, dropping zero.
func intParam(v int) string {
	if v <= 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// readJSONFlag accepts inline JSON or, with a leading @, a file path.
func readJSONFlag(raw string) ([]byte, error) {
	data := []byte(raw)
	if strings.HasPrefix(raw, "@") {
		var err error
		data, err = os.ReadFile(strings.TrimPrefix(raw, "@"))
		if err != nil {
			return nil, err
		}
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("not valid JSON")
	}
	return data, nil
}
