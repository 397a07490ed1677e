package llm

import (
	"bytes"
	"encoding/json"

	"github.com/forge-ai/readmeforge/shared/apperr"
)

// decoder turns raw body chunks into text fragments.
type decoder interface {
	// Feed consumes one network chunk and returns the fragments it completed.
	Feed(chunk []byte) []string
	// Finish is called once at end of body.
	Finish() ([]string, error)
}

func newDecoder(p Provider) decoder {
	if p.Streaming() {
		return &sseDecoder{}
	}
	return &wholeBodyDecoder{}
}

var (
	dataField = []byte("data:")
	doneEvent = []byte("[DONE]")
)

type chatDelta struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// sseDecoder parses OpenAI-style event streams. Only complete lines are
// parsed; the trailing partial line stays buffered until the next chunk.
type sseDecoder struct {
	buf       []byte
	malformed int
}

func (d *sseDecoder) Feed(chunk []byte) []string {
	d.buf = append(d.buf, chunk...)

	var out []string
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		if text, ok := d.parseLine(d.buf[:i]); ok {
			out = append(out, text)
		}
		d.buf = d.buf[i+1:]
	}
	return out
}

// Finish parses a final line the provider left unterminated.
func (d *sseDecoder) Finish() ([]string, error) {
	line := d.buf
	d.buf = nil
	if text, ok := d.parseLine(line); ok {
		return []string{text}, nil
	}
	return nil, nil
}

func (d *sseDecoder) parseLine(line []byte) (string, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	payload, ok := bytes.CutPrefix(line, dataField)
	if !ok {
		return "", false
	}
	payload = bytes.TrimPrefix(payload, []byte(" "))
	if bytes.Equal(bytes.TrimSpace(payload), doneEvent) {
		return "", false
	}

	var delta chatDelta
	if err := json.Unmarshal(payload, &delta); err != nil {
		d.malformed++
		return "", false
	}
	if len(delta.Choices) == 0 || delta.Choices[0].Delta.Content == "" {
		return "", false
	}
	return delta.Choices[0].Delta.Content, true
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// wholeBodyDecoder buffers the entire body and emits it as one fragment.
type wholeBodyDecoder struct {
	buf bytes.Buffer
}

func (d *wholeBodyDecoder) Feed(chunk []byte) []string {
	d.buf.Write(chunk)
	return nil
}

func (d *wholeBodyDecoder) Finish() ([]string, error) {
	var resp geminiResponse
	if err := json.Unmarshal(d.buf.Bytes(), &resp); err != nil {
		return nil, apperr.NewDecodeError("Error parsing Gemini response", err)
	}
	d.buf.Reset()

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, nil
	}
	if text := resp.Candidates[0].Content.Parts[0].Text; text != "" {
		return []string{text}, nil
	}
	return nil, nil
}
