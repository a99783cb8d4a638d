package ledgercache

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Unbounded is the MinFresh sentinel. For GET it means any cached age is
// acceptable; for PURGE it means every entry is removed.
const Unbounded int64 = -1

// SchemaOptions is the per-call cache policy for schema reads.
type SchemaOptions struct {
	// NoCache skips reading the cache and always fetches from the ledger
	NoCache bool `json:"noCache"`

	// NoUpdate serves cached data only and never fetches
	NoUpdate bool `json:"noUpdate"`

	// NoStore returns fetched data without writing it to the cache
	NoStore bool `json:"noStore"`

	// MinFresh is the maximum acceptable entry age in seconds (-1 = any age)
	MinFresh int64 `json:"minFresh"`
}

// DefaultSchemaOptions returns the options used when none are supplied.
func DefaultSchemaOptions() SchemaOptions {
	return SchemaOptions{MinFresh: Unbounded}
}

// Validate rejects malformed or contradictory options.
func (o SchemaOptions) Validate() error {
	if o.MinFresh < Unbounded {
		return invalidArgf("minFresh must be -1 or a non-negative number of seconds, got %d", o.MinFresh)
	}
	if o.NoCache && o.NoUpdate {
		return invalidArgf("noCache and noUpdate are mutually exclusive")
	}
	return nil
}

// CredDefOptions is the per-call cache policy for credential definition reads.
type CredDefOptions struct {
	// ForceUpdate refetches from the ledger regardless of cached data
	ForceUpdate bool `json:"forceUpdate"`
}

// Validate is a no-op; every CredDefOptions value is well formed.
func (o CredDefOptions) Validate() error {
	return nil
}

// PurgeOptions is the sweep policy for purge operations.
type PurgeOptions struct {
	// MinFresh removes entries older than this many seconds (-1 = remove all)
	MinFresh int64 `json:"minFresh"`
}

// DefaultPurgeOptions returns options that purge everything.
func DefaultPurgeOptions() PurgeOptions {
	return PurgeOptions{MinFresh: Unbounded}
}

func (o PurgeOptions) Validate() error {
	if o.MinFresh < Unbounded {
		return invalidArgf("minFresh must be -1 or a non-negative number of seconds, got %d", o.MinFresh)
	}
	return nil
}

// ParseSchemaOptions decodes the JSON options object accepted by GetSchema.
// Missing keys take their defaults; an empty string means all defaults.
func ParseSchemaOptions(raw string) (SchemaOptions, error) {
	opts := DefaultSchemaOptions()
	if err := decodeOptions(raw, &opts); err != nil {
		return SchemaOptions{}, err
	}
	return opts, opts.Validate()
}

// ParseCredDefOptions decodes the JSON options object accepted by GetCredDef.
func ParseCredDefOptions(raw string) (CredDefOptions, error) {
	var opts CredDefOptions
	if err := decodeOptions(raw, &opts); err != nil {
		return CredDefOptions{}, err
	}
	return opts, opts.Validate()
}

// ParsePurgeOptions decodes the JSON options object accepted by the purge calls.
func ParsePurgeOptions(raw string) (PurgeOptions, error) {
	opts := DefaultPurgeOptions()
	if err := decodeOptions(raw, &opts); err != nil {
		return PurgeOptions{}, err
	}
	return opts, opts.Validate()
}

func decodeOptions(raw string, into any) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return invalidArgf("options json: %v", err)
	}
	return nil
}
