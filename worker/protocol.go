package worker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/krau/trashseg/images"
	"github.com/krau/trashseg/segment"
)

// Frames are [uint32 big-endian length][payload]. Requests start with an op
// byte, responses with a status byte.
const (
	OpSetImage      byte = 1
	OpSetTextPrompt byte = 2
	OpRelease       byte = 3

	StatusOK    byte = 0
	StatusError byte = 1

	maxFrame = 1 << 30
)

var errShortPayload = errors.New("python worker sent a truncated response")

func writeFrame(w io.Writer, payload []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(payload))); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header)
	if n > maxFrame {
		return nil, fmt.Errorf("python worker frame too large: %d bytes", n)
	}
	body := make([]byte, n)
	_, err := io.ReadFull(r, body)
	return body, err
}

// parseStatus strips the status byte and turns an error status into an error.
func parseStatus(resp []byte) ([]byte, error) {
	if len(resp) == 0 {
		return nil, errShortPayload
	}
	if resp[0] == StatusOK {
		return resp[1:], nil
	}
	r := bytes.NewReader(resp[1:])
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, errShortPayload
	}
	msg := make([]byte, n)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, errShortPayload
	}
	return nil, fmt.Errorf("python worker error: %s", msg)
}

func encodeSetImage(img *images.RGB) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 9+len(img.Pix)))
	buf.WriteByte(OpSetImage)
	binary.Write(buf, binary.BigEndian, uint32(img.Width))
	binary.Write(buf, binary.BigEndian, uint32(img.Height))
	buf.Write(img.Pix)
	return buf.Bytes()
}

func encodeSetTextPrompt(id uint32, prompt string) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(OpSetTextPrompt)
	binary.Write(buf, binary.BigEndian, id)
	binary.Write(buf, binary.BigEndian, uint32(len(prompt)))
	buf.WriteString(prompt)
	return buf.Bytes()
}

func encodeRelease(id uint32) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(OpRelease)
	binary.Write(buf, binary.BigEndian, id)
	return buf.Bytes()
}

func decodeStateID(body []byte) (uint32, error) {
	if len(body) < 4 {
		return 0, errShortPayload
	}
	return binary.BigEndian.Uint32(body), nil
}

// decodeResult reads [N][H][W] followed by N x ([4]f32 box, f32 score, H*W mask bytes).
func decodeResult(body []byte) (*segment.Result, error) {
	r := bytes.NewReader(body)
	var hdr [3]uint32
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return nil, errShortPayload
	}
	n, h, w := int(hdr[0]), int(hdr[1]), int(hdr[2])
	plane := uint64(hdr[1]) * uint64(hdr[2])
	if plane > maxFrame {
		return nil, fmt.Errorf("python worker mask too large: %dx%d", w, h)
	}
	if uint64(r.Len()) != uint64(hdr[0])*(20+plane) {
		return nil, fmt.Errorf("python worker result size mismatch: %d bytes for %d instances of %dx%d",
			r.Len(), n, w, h)
	}

	res := &segment.Result{
		Masks:  make([]*segment.Mask, 0, n),
		Boxes:  make([]segment.BBox, 0, n),
		Scores: make([]float32, 0, n),
	}
	if n == 0 {
		return res, nil
	}
	raw := make([]byte, h*w)
	for iter := 0; iter < n; iter++ {
		var box [4]float32
		var score float32
		binary.Read(r, binary.BigEndian, &box)
		binary.Read(r, binary.BigEndian, &score)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, errShortPayload
		}
		m := segment.NewMask(w, h)
		for i, v := range raw {
			m.Bits[i] = v != 0
		}
		res.Boxes = append(res.Boxes, segment.BBox{X1: box[0], Y1: box[1], X2: box[2], Y2: box[3]})
		res.Scores = append(res.Scores, score)
		res.Masks = append(res.Masks, m)
	}
	return res, nil
}
