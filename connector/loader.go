package connector

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a connector document from path.
func Load(path string) (*ConnectorDefinition, error) {
	var raw, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading connector definition %q: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates a connector document from raw YAML bytes.
func Parse(raw []byte) (*ConnectorDefinition, error) {
	var def ConnectorDefinition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parsing connector definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("validating connector definition: %w", err)
	}
	return &def, nil
}

// Validate checks structural invariants a connector document must satisfy,
// collecting into a single fatal error on the first violation, the way
// ConfiguredCatalog.Validate does in the teacher's catalog package.
func (d *ConnectorDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if d.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if len(d.Streams) == 0 {
		return fmt.Errorf("at least one stream is required")
	}
	if d.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}

	var seen = map[string]bool{}
	for i, s := range d.Streams {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("stream[%d] %q: %w", i, s.Name, err)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate stream name %q", s.Name)
		}
		seen[s.Name] = true
	}

	switch d.Auth.Type {
	case "", AuthNone, AuthAPIKey, AuthBasic, AuthBearer, AuthOAuth2CC,
		AuthOAuth2Refresh, AuthSessionToken, AuthJWT, AuthCustomHeaders:
	default:
		return fmt.Errorf("unknown auth.type %q", d.Auth.Type)
	}

	return nil
}

// Validate checks a single stream definition.
func (s *StreamDefinition) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Request.Path == "" {
		return fmt.Errorf("request.path is required")
	}
	switch s.Request.Method {
	case "", MethodGet, MethodPost, MethodPut, MethodPatch, MethodDelete:
	default:
		return fmt.Errorf("unknown request.method %q", s.Request.Method)
	}
	switch s.Decoder.Type {
	case "", DecoderJSON, DecoderJSONL, DecoderCSV, DecoderXML:
	default:
		return fmt.Errorf("unknown decoder.type %q", s.Decoder.Type)
	}
	switch s.Pagination.Type {
	case "", PaginationNone, PaginationOffset, PaginationPageNumber,
		PaginationCursor, PaginationLinkHeader, PaginationNextURL:
	default:
		return fmt.Errorf("unknown pagination.type %q", s.Pagination.Type)
	}
	switch s.Partition.Type {
	case "", PartitionNone, PartitionList, PartitionParent, PartitionDateRange, PartitionAsyncJob:
	default:
		return fmt.Errorf("unknown partition.type %q", s.Partition.Type)
	}
	return nil
}

// EffectiveMethod returns the stream's HTTP method, defaulting to GET.
func (s *StreamDefinition) EffectiveMethod() HTTPMethod {
	if s.Request.Method == "" {
		return MethodGet
	}
	return s.Request.Method
}
