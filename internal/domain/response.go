package domain

import (
	"encoding/json"
	"fmt"
)

// Response is the structured answer to an Issue. The concrete types below are
// the only implementations.
type Response interface {
	Kind() IssueType
	isResponse()
}

type AssigneeResponse struct {
	VendorID string `json:"vendorId"`
}

type DateResponse struct {
	Date string `json:"date"`
}

type DateRangeResponse struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type DependencyResponse struct {
	TaskIDs []string `json:"taskIds"`
}

type YesNoResponse struct {
	Value bool `json:"value"`
}

type SelectOneResponse struct {
	Value string `json:"value"`
}

type MaterialStatusResponse struct {
	Status MaterialStatus `json:"status"`
}

type NotificationResponse struct {
	Acknowledged bool `json:"acknowledged"`
}

type FreeTextResponse struct {
	Text string `json:"text"`
}

// LegacyFreeTextResponse is a response stored as a bare JSON string by older
// documents. It is accepted for any issue type and re-encoded as a string.
type LegacyFreeTextResponse struct {
	Text string
}

func (AssigneeResponse) Kind() IssueType       { return IssueAssignee }
func (DateResponse) Kind() IssueType           { return IssueDate }
func (DateRangeResponse) Kind() IssueType      { return IssueDateRange }
func (DependencyResponse) Kind() IssueType     { return IssueDependency }
func (YesNoResponse) Kind() IssueType          { return IssueYesNo }
func (SelectOneResponse) Kind() IssueType      { return IssueSelectOne }
func (MaterialStatusResponse) Kind() IssueType { return IssueMaterialStatus }
func (NotificationResponse) Kind() IssueType   { return IssueNotification }
func (FreeTextResponse) Kind() IssueType       { return IssueFreeText }
func (LegacyFreeTextResponse) Kind() IssueType { return IssueFreeText }

func (AssigneeResponse) isResponse()       {}
func (DateResponse) isResponse()           {}
func (DateRangeResponse) isResponse()      {}
func (DependencyResponse) isResponse()     {}
func (YesNoResponse) isResponse()          {}
func (SelectOneResponse) isResponse()      {}
func (MaterialStatusResponse) isResponse() {}
func (NotificationResponse) isResponse()   {}
func (FreeTextResponse) isResponse()       {}
func (LegacyFreeTextResponse) isResponse() {}

// IsLegacy reports whether r is the untyped legacy variant.
func IsLegacy(r Response) bool {
	_, ok := r.(LegacyFreeTextResponse)
	return ok
}

// MarshalResponse encodes r as a `type`-tagged object, or a bare string for
// the legacy variant.
func MarshalResponse(r Response) ([]byte, error) {
	if legacy, ok := r.(LegacyFreeTextResponse); ok {
		return json.Marshal(legacy.Text)
	}
	body, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	kind, _ := json.Marshal(r.Kind())
	fields["type"] = kind
	return json.Marshal(fields)
}

// UnmarshalResponse decodes a response value written by MarshalResponse.
func UnmarshalResponse(data []byte) (Response, error) {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		return LegacyFreeTextResponse{Text: text}, nil
	}
	var head struct {
		Type IssueType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	switch head.Type {
	case IssueAssignee:
		return decodeAs[AssigneeResponse](data)
	case IssueDate:
		return decodeAs[DateResponse](data)
	case IssueDateRange:
		return decodeAs[DateRangeResponse](data)
	case IssueDependency:
		return decodeAs[DependencyResponse](data)
	case IssueYesNo:
		return decodeAs[YesNoResponse](data)
	case IssueSelectOne:
		return decodeAs[SelectOneResponse](data)
	case IssueMaterialStatus:
		return decodeAs[MaterialStatusResponse](data)
	case IssueNotification:
		return decodeAs[NotificationResponse](data)
	case IssueFreeText:
		return decodeAs[FreeTextResponse](data)
	case "":
		return nil, fmt.Errorf("decode response: missing type")
	default:
		return nil, fmt.Errorf("decode response: unknown type %q", head.Type)
	}
}

func decodeAs[T Response](data []byte) (Response, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", v.Kind(), err)
	}
	return v, nil
}
