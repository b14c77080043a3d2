package loss

import (
	"fmt"
	"strings"
)

// Kind selects the classification term of a Criterion.
type Kind int

const (
	// MarginLoss is the capsule margin loss of Sabour et al.
	MarginLoss Kind = iota
	// SpreadLoss is the pairwise spread loss of Hinton et al.
	SpreadLoss
	// CrossEntropyLoss is softmax cross-entropy over the predictions.
	CrossEntropyLoss
)

var kindNames = map[Kind]string{
	MarginLoss:       "margin_loss",
	SpreadLoss:       "spread_loss",
	CrossEntropyLoss: "cross_entropy_loss",
}

// ParseKind returns the loss kind with the given name.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if strings.EqualFold(n, name) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown loss %q (want margin_loss, spread_loss or cross_entropy_loss)", name)
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("invalid loss kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	kind, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}
