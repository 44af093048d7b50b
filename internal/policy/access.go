package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultPolicyVersion is the access policy language version used for
// synthesized documents
const DefaultPolicyVersion = "2008-10-17"

// Statement ids of the synthesized default document
const (
	DefaultWriterSid = "AllowReadWrite"
	DefaultReaderSid = "AllowReadOnly"
)

// DefaultWriterActions are granted to the writer principals of the default
// access policy: pull, push and policy management.
var DefaultWriterActions = []string{
	"ecr:BatchCheckLayerAvailability",
	"ecr:BatchGetImage",
	"ecr:CompleteLayerUpload",
	"ecr:DescribeImages",
	"ecr:DescribeRepositories",
	"ecr:GetDownloadUrlForLayer",
	"ecr:GetRepositoryPolicy",
	"ecr:InitiateLayerUpload",
	"ecr:ListImages",
	"ecr:PutImage",
	"ecr:SetRepositoryPolicy",
	"ecr:UploadLayerPart",
}

// DefaultReaderActions are granted to the reader principals of the default
// access policy: pull and describe only.
var DefaultReaderActions = []string{
	"ecr:BatchCheckLayerAvailability",
	"ecr:BatchGetImage",
	"ecr:DescribeImages",
	"ecr:DescribeRepositories",
	"ecr:GetDownloadUrlForLayer",
	"ecr:GetRepositoryPolicy",
	"ecr:ListImages",
}

// AccessDefaults is the configuration table the default access policy is
// synthesized from. Principals have no built-in value and must be configured.
type AccessDefaults struct {
	Version          string
	WriterSid        string
	ReaderSid        string
	WriterPrincipals []string
	ReaderPrincipals []string
	WriterActions    []string
	ReaderActions    []string
}

// NewAccessDefaults returns a defaults table for the given principals using
// the default sids and action lists
func NewAccessDefaults(writers, readers []string) AccessDefaults {
	return AccessDefaults{
		Version:          DefaultPolicyVersion,
		WriterSid:        DefaultWriterSid,
		ReaderSid:        DefaultReaderSid,
		WriterPrincipals: append([]string(nil), writers...),
		ReaderPrincipals: append([]string(nil), readers...),
		WriterActions:    append([]string(nil), DefaultWriterActions...),
		ReaderActions:    append([]string(nil), DefaultReaderActions...),
	}
}

// BuildAccessPolicy returns the caller override parsed and kept verbatim, or
// when override is empty, the two-statement default document.
func BuildAccessPolicy(override []byte, defaults AccessDefaults) (AccessPolicy, error) {
	if len(bytes.TrimSpace(override)) > 0 {
		return ParseAccessPolicy(override)
	}
	return defaultAccessPolicy(defaults)
}

func defaultAccessPolicy(d AccessDefaults) (AccessPolicy, error) {
	version := d.Version
	if version == "" {
		version = DefaultPolicyVersion
	}
	writerSid := d.WriterSid
	if writerSid == "" {
		writerSid = DefaultWriterSid
	}
	readerSid := d.ReaderSid
	if readerSid == "" {
		readerSid = DefaultReaderSid
	}

	switch {
	case len(d.WriterPrincipals) == 0:
		return AccessPolicy{}, ErrInvalidPolicyDocument{Reason: "default policy requires at least one writer principal"}
	case len(d.ReaderPrincipals) == 0:
		return AccessPolicy{}, ErrInvalidPolicyDocument{Reason: "default policy requires at least one reader principal"}
	case len(d.WriterActions) == 0 || len(d.ReaderActions) == 0:
		return AccessPolicy{}, ErrInvalidPolicyDocument{Reason: "default policy action lists must not be empty"}
	}

	p := AccessPolicy{
		Version: version,
		Statements: []Statement{
			{
				Sid:       writerSid,
				Effect:    EffectAllow,
				Principal: Principal{"AWS": append(StringList(nil), d.WriterPrincipals...)},
				Action:    append(StringList(nil), d.WriterActions...),
			},
			{
				Sid:       readerSid,
				Effect:    EffectAllow,
				Principal: Principal{"AWS": append(StringList(nil), d.ReaderPrincipals...)},
				Action:    append(StringList(nil), d.ReaderActions...),
			},
		},
	}
	if err := validateStatements(p.Statements); err != nil {
		return AccessPolicy{}, err
	}
	return p, nil
}

// ParseAccessPolicy validates a raw access policy document. The returned
// policy renders the input bytes unchanged.
func ParseAccessPolicy(raw []byte) (AccessPolicy, error) {
	var doc struct {
		Version   string          `json:"Version"`
		Statement json.RawMessage `json:"Statement"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return AccessPolicy{}, ErrInvalidPolicyDocument{Reason: "not a JSON object", Err: err}
	}

	stmtData := bytes.TrimSpace(doc.Statement)
	if len(stmtData) == 0 || bytes.Equal(stmtData, []byte("null")) {
		return AccessPolicy{}, ErrInvalidPolicyDocument{Reason: "document has no Statement"}
	}

	var statements []Statement
	if stmtData[0] == '[' {
		if err := json.Unmarshal(stmtData, &statements); err != nil {
			return AccessPolicy{}, ErrInvalidPolicyDocument{Reason: "malformed Statement list", Err: err}
		}
	} else {
		var single Statement
		if err := json.Unmarshal(stmtData, &single); err != nil {
			return AccessPolicy{}, ErrInvalidPolicyDocument{Reason: "malformed Statement", Err: err}
		}
		statements = []Statement{single}
	}
	if len(statements) == 0 {
		return AccessPolicy{}, ErrInvalidPolicyDocument{Reason: "document has no Statement"}
	}
	if err := validateStatements(statements); err != nil {
		return AccessPolicy{}, err
	}

	return AccessPolicy{
		Version:    doc.Version,
		Statements: statements,
		raw:        append([]byte(nil), raw...),
	}, nil
}

func validateStatements(statements []Statement) error {
	sids := make(map[string]int, len(statements))
	for i, s := range statements {
		if s.Effect != EffectAllow && s.Effect != EffectDeny {
			return ErrInvalidPolicyDocument{Reason: fmt.Sprintf("statement #%d has invalid Effect %q", i, s.Effect)}
		}
		if s.Sid == "" {
			continue
		}
		if prev, ok := sids[s.Sid]; ok {
			return ErrInvalidPolicyDocument{Reason: fmt.Sprintf("statements #%d and #%d share Sid %q", prev, i, s.Sid)}
		}
		sids[s.Sid] = i
		if strings.TrimSpace(s.Sid) != s.Sid {
			return ErrInvalidPolicyDocument{Reason: fmt.Sprintf("statement #%d Sid has surrounding whitespace", i)}
		}
	}
	return nil
}
