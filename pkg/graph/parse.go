package graph

import (
	"strings"

	"github.com/OFFIS-RIT/kgqa/pkg/ai"
	"github.com/OFFIS-RIT/kgqa/pkg/common"
	"github.com/OFFIS-RIT/kgqa/pkg/logger"
)

type extractEntity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

type extractRelation struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
}

type extractResponse struct {
	Entities  []extractEntity   `json:"entities"`
	Relations []extractRelation `json:"relations"`
}

// ParseResponse decodes the model output of one extraction call and runs it
// through FilterResult. Output without a decodable JSON object yields an
// empty result; ParseResponse never fails.
func ParseResponse(text string) common.ExtractionResult {
	raw, ok := ai.ExtractJSONObject(text)
	if !ok {
		logger.Warn("[Extract] No JSON object in model output", "length", len(text))
		return common.ExtractionResult{}
	}

	var res extractResponse
	if err := ai.UnmarshalFlexible(raw, &res); err != nil {
		logger.Warn("[Extract] Malformed model output", "err", err)
		return common.ExtractionResult{}
	}

	out := common.ExtractionResult{
		Entities:  make([]common.RawEntity, 0, len(res.Entities)),
		Relations: make([]common.RawRelation, 0, len(res.Relations)),
	}
	for _, e := range res.Entities {
		out.Entities = append(out.Entities, common.RawEntity{
			Name:        strings.TrimSpace(e.Name),
			Type:        strings.TrimSpace(e.Type),
			Description: strings.TrimSpace(e.Description),
		})
	}
	for _, r := range res.Relations {
		out.Relations = append(out.Relations, common.RawRelation{
			Source:   strings.TrimSpace(r.Source),
			Target:   strings.TrimSpace(r.Target),
			Relation: strings.TrimSpace(r.Relation),
		})
	}

	return FilterResult(out)
}
