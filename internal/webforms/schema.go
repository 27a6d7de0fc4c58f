package webforms

import (
	"encoding/json"
	"strings"

	pkgerrors "github.com/angelmondragon/formpay/pkg/errors"
)

// Element types with special meaning.
const (
	TypePayment   = "os2forms_payment"
	TypeTextfield = "textfield"
	TypeHidden    = "hidden"
	TypeSelect    = "select"
)

const defaultPaymentMethod = "Card"

var groupTypes = map[string]struct{}{
	"container":           {},
	"fieldset":            {},
	"details":             {},
	"webform_section":     {},
	"webform_flexbox":     {},
	"webform_wizard_page": {},
}

var amountTypes = map[string]struct{}{
	TypeTextfield: {},
	TypeHidden:    {},
	TypeSelect:    {},
}

// Element is a node of a form definition.
type Element interface {
	Key() string
	Type() string
}

// Field is a plain input element.
type Field struct {
	ElementKey  string
	ElementType string
	Title       string
	Options     map[string]string
}

func (f *Field) Key() string  { return f.ElementKey }
func (f *Field) Type() string { return f.ElementType }

// PaymentElement is the element whose submitted value carries the payment object.
type PaymentElement struct {
	ElementKey              string
	Title                   string
	AmountToPay             string
	PaymentMethods          []string
	Posting                 string
	CheckoutPageDescription string
}

func (p *PaymentElement) Key() string  { return p.ElementKey }
func (p *PaymentElement) Type() string { return TypePayment }

// Methods returns the enabled payment methods, defaulting to card.
func (p *PaymentElement) Methods() []string {
	methods := make([]string, 0, len(p.PaymentMethods))
	for _, m := range p.PaymentMethods {
		if trimmed := strings.TrimSpace(m); trimmed != "" {
			methods = append(methods, trimmed)
		}
	}
	if len(methods) == 0 {
		return []string{defaultPaymentMethod}
	}
	return methods
}

// PostingOrUndefined returns the configured posting or "undefined".
func (p *PaymentElement) PostingOrUndefined() string {
	if posting := strings.TrimSpace(p.Posting); posting != "" {
		return posting
	}
	return "undefined"
}

// Group nests other elements.
type Group struct {
	ElementKey  string
	ElementType string
	Title       string
	Children    []Element
}

func (g *Group) Key() string  { return g.ElementKey }
func (g *Group) Type() string { return g.ElementType }

// Schema is the decoded element tree of a form.
type Schema struct {
	Elements []Element
}

type node struct {
	Key                     string            `json:"key"`
	Type                    string            `json:"type"`
	Title                   string            `json:"title,omitempty"`
	Options                 map[string]string `json:"options,omitempty"`
	AmountToPay             string            `json:"amount_to_pay,omitempty"`
	PaymentMethods          []string          `json:"payment_methods,omitempty"`
	PaymentPosting          string            `json:"payment_posting,omitempty"`
	CheckoutPageDescription string            `json:"checkout_page_description,omitempty"`
	Elements                []node            `json:"elements,omitempty"`
}

// ParseSchema decodes a JSON element tree.
func ParseSchema(raw []byte) (Schema, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return Schema{}, nil
	}
	var nodes []node
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return Schema{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webform elements")
	}
	elements := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		el, err := n.toElement()
		if err != nil {
			return Schema{}, err
		}
		elements = append(elements, el)
	}
	return Schema{Elements: elements}, nil
}

func (n node) toElement() (Element, error) {
	key := strings.TrimSpace(n.Key)
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webform element key is required")
	}
	elementType := strings.TrimSpace(n.Type)

	if elementType == TypePayment {
		return &PaymentElement{
			ElementKey:              key,
			Title:                   n.Title,
			AmountToPay:             strings.TrimSpace(n.AmountToPay),
			PaymentMethods:          n.PaymentMethods,
			Posting:                 n.PaymentPosting,
			CheckoutPageDescription: n.CheckoutPageDescription,
		}, nil
	}

	if _, ok := groupTypes[elementType]; ok || len(n.Elements) > 0 {
		group := &Group{ElementKey: key, ElementType: elementType, Title: n.Title}
		for _, child := range n.Elements {
			el, err := child.toElement()
			if err != nil {
				return nil, err
			}
			group.Children = append(group.Children, el)
		}
		return group, nil
	}

	if elementType == "" {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "webform element %q has no type", key)
	}
	return &Field{ElementKey: key, ElementType: elementType, Title: n.Title, Options: n.Options}, nil
}

// MarshalJSON renders the tree back into its stored form.
func (s Schema) MarshalJSON() ([]byte, error) {
	nodes := make([]node, 0, len(s.Elements))
	for _, el := range s.Elements {
		nodes = append(nodes, toNode(el))
	}
	return json.Marshal(nodes)
}

func toNode(el Element) node {
	switch v := el.(type) {
	case *PaymentElement:
		return node{
			Key:                     v.ElementKey,
			Type:                    TypePayment,
			Title:                   v.Title,
			AmountToPay:             v.AmountToPay,
			PaymentMethods:          v.PaymentMethods,
			PaymentPosting:          v.Posting,
			CheckoutPageDescription: v.CheckoutPageDescription,
		}
	case *Group:
		n := node{Key: v.ElementKey, Type: v.ElementType, Title: v.Title}
		for _, child := range v.Children {
			n.Elements = append(n.Elements, toNode(child))
		}
		return n
	case *Field:
		return node{Key: v.ElementKey, Type: v.ElementType, Title: v.Title, Options: v.Options}
	default:
		return node{Key: el.Key(), Type: el.Type()}
	}
}

// Flatten lists every element depth-first, groups before their children.
func (s Schema) Flatten() []Element {
	var out []Element
	var walk func([]Element)
	walk = func(elements []Element) {
		for _, el := range elements {
			out = append(out, el)
			if g, ok := el.(*Group); ok {
				walk(g.Children)
			}
		}
	}
	walk(s.Elements)
	return out
}

// FindPaymentField returns the payment element, nil when the form has none.
// More than one payment element is a configuration error.
func (s Schema) FindPaymentField() (*PaymentElement, error) {
	var found *PaymentElement
	for _, el := range s.Flatten() {
		p, ok := el.(*PaymentElement)
		if !ok {
			continue
		}
		if found != nil {
			return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "webform has more than one payment element").
				WithDetails(map[string]any{"keys": []string{found.ElementKey, p.ElementKey}})
		}
		found = p
	}
	return found, nil
}

// AmountElements lists the elements that may hold the amount to pay.
func (s Schema) AmountElements() []*Field {
	var out []*Field
	for _, el := range s.Flatten() {
		f, ok := el.(*Field)
		if !ok {
			continue
		}
		if _, ok := amountTypes[f.ElementType]; ok {
			out = append(out, f)
		}
	}
	return out
}

// Validate checks key uniqueness and the payment element configuration.
func (s Schema) Validate() error {
	seen := map[string]struct{}{}
	for _, el := range s.Flatten() {
		if _, dup := seen[el.Key()]; dup {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "duplicate webform element key %q", el.Key())
		}
		seen[el.Key()] = struct{}{}
	}

	payment, err := s.FindPaymentField()
	if err != nil {
		return err
	}
	if payment == nil || payment.AmountToPay == "" {
		return nil
	}
	for _, f := range s.AmountElements() {
		if f.ElementKey == payment.AmountToPay {
			return nil
		}
	}
	return pkgerrors.Newf(pkgerrors.CodeValidation, "amount_to_pay %q must reference a textfield, hidden or select element", payment.AmountToPay)
}
