package synth

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/okian/replaylink/internal/domain/model"
)

// Truth maps every screenshot to the battle it shows.
type Truth map[model.ObservationKey]string

// Accuracy counts how a run did against the truth.
type Accuracy struct {
	Total   int // screenshots with a known answer
	Correct int // matched to the right battle
	Wrong   int // matched to another battle
	Missed  int // not matched at all
}

// Precision is the share of produced matches that are right.
func (a Accuracy) Precision() float64 {
	if a.Correct+a.Wrong == 0 {
		return 0
	}
	return float64(a.Correct) / float64(a.Correct+a.Wrong)
}

// Recall is the share of screenshots matched to the right battle.
func (a Accuracy) Recall() float64 {
	if a.Total == 0 {
		return 0
	}
	return float64(a.Correct) / float64(a.Total)
}

func (a *Accuracy) add(b Accuracy) {
	a.Total += b.Total
	a.Correct += b.Correct
	a.Wrong += b.Wrong
	a.Missed += b.Missed
}

// Verification is the result of Verify, overall and per time reference.
type Verification struct {
	Overall     Accuracy
	ByReference map[model.TimeReference]Accuracy
	// Errors lists wrong matches as "video@ts: got X, want Y", sorted.
	Errors []string
}

// Verify compares decisions against truth. Duplicate decisions are ignored;
// screenshots without any decision count as missed under RefNone.
func Verify(truth Truth, decisions []model.Decision) Verification {
	seen := make(map[model.ObservationKey]model.Decision, len(decisions))
	for _, d := range decisions {
		if d.Outcome == model.OutcomeDuplicate {
			continue
		}
		seen[d.Key] = d
	}

	v := Verification{ByReference: make(map[model.TimeReference]Accuracy)}
	for key, want := range truth {
		var acc Accuracy
		acc.Total = 1
		d, ok := seen[key]
		switch {
		case !ok || d.Match == nil:
			acc.Missed = 1
		case d.Match.BattleID == want:
			acc.Correct = 1
		default:
			acc.Wrong = 1
			v.Errors = append(v.Errors, fmt.Sprintf("%s: got %s, want %s", key, d.Match.BattleID, want))
		}
		ref := model.RefNone
		if ok {
			ref = d.Reference
		}
		byRef := v.ByReference[ref]
		byRef.add(acc)
		v.ByReference[ref] = byRef
		v.Overall.add(acc)
	}
	sort.Strings(v.Errors)
	return v
}

// MarshalTruth renders truth as {"video": {"ts": "battle"}}.
func MarshalTruth(t Truth) ([]byte, error) {
	doc := make(map[string]map[string]string)
	for key, battle := range t {
		shots, ok := doc[key.VideoID]
		if !ok {
			shots = make(map[string]string)
			doc[key.VideoID] = shots
		}
		shots[strconv.Itoa(key.TimestampSeconds)] = battle
	}
	return json.MarshalIndent(doc, "", "  ")
}

// ParseTruth reads what MarshalTruth wrote.
func ParseTruth(data []byte) (Truth, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("truth file is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("truth file must be an object keyed by video id")
	}

	t := make(Truth)
	var err error
	root.ForEach(func(video, shots gjson.Result) bool {
		shots.ForEach(func(ts, battle gjson.Result) bool {
			sec, convErr := strconv.Atoi(ts.String())
			if convErr != nil || battle.Type != gjson.String {
				err = fmt.Errorf("truth entry %s/%s is invalid", video.String(), ts.String())
				return false
			}
			t[model.ObservationKey{VideoID: video.String(), TimestampSeconds: sec}] = battle.Str
			return true
		})
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ReadTruth loads a truth file from disk.
func ReadTruth(path string) (Truth, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read truth file: %w", err)
	}
	return ParseTruth(data)
}
