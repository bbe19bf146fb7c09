package corpus

import (
	"fmt"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"tb-go/internal/tb"
)

// DefaultEncoding is used for models the encoder does not recognize.
const DefaultEncoding = "o200k_base"

// Encoder counts the model tokens in a piece of text.
type Encoder interface {
	Count(text string) int
	// Encoding names the model or encoding the counts are based on.
	Encoding() string
}

// TiktokenEncoder counts tokens with the BPE encoding of a model.
type TiktokenEncoder struct {
	enc      *tiktoken.Tiktoken
	encoding string
}

// NewTiktokenEncoder returns the encoder for model. An unrecognized model
// falls back to DefaultEncoding with a warning.
func NewTiktokenEncoder(model string, logger tb.Logger) (*TiktokenEncoder, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err == nil {
		return &TiktokenEncoder{enc: enc, encoding: model}, nil
	}

	logger.Warn("token encoding fallback",
		"model", model,
		"encoding", DefaultEncoding,
		"error", fmt.Errorf("%w: %s", tb.ErrEncodingUnsupported, model))

	enc, err = tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("loading %s encoding: %w", DefaultEncoding, err)
	}
	return &TiktokenEncoder{enc: enc, encoding: DefaultEncoding}, nil
}

func (e *TiktokenEncoder) Encoding() string {
	return e.encoding
}

func (e *TiktokenEncoder) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(e.enc.Encode(text, nil, nil))
}

var _ Encoder = (*TiktokenEncoder)(nil)
