package graph

import "testing"

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name          string
		output        string
		wantEntities  int
		wantRelations int
	}{
		{
			name: "fenced block",
			output: "好的，结果如下：\n```json\n" +
				`{"entities":[{"name":"李笑来","type":"Person"},{"name":"定投","type":"Strategy"}],` +
				`"relations":[{"source":"李笑来","target":"定投","relation":"主张"}]}` +
				"\n```\n以上。",
			wantEntities:  2,
			wantRelations: 1,
		},
		{
			name: "bare object with surrounding prose",
			output: `提取结果 {"entities":[{"name":"复利","type":"Concept","description":"利滚利"}],"relations":[]} 完毕`,
			wantEntities:  1,
			wantRelations: 0,
		},
		{
			name:          "repairable object",
			output:        `{"entities":[{"name":"复利","type":"Concept",}],"relations":[],}`,
			wantEntities:  1,
			wantRelations: 0,
		},
		{
			name:          "no json at all",
			output:        "抱歉，我无法处理这段文本。",
			wantEntities:  0,
			wantRelations: 0,
		},
		{
			name:          "empty output",
			output:        "",
			wantEntities:  0,
			wantRelations: 0,
		},
		{
			name: "filtered entity drops its relations",
			output: `{"entities":[{"name":"这","type":"Entity"},{"name":"定投","type":"Strategy"}],` +
				`"relations":[{"source":"这","target":"定投","relation":"主张"}]}`,
			wantEntities:  1,
			wantRelations: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseResponse(tt.output)
			if len(got.Entities) != tt.wantEntities {
				t.Fatalf("entities = %+v, want %d", got.Entities, tt.wantEntities)
			}
			if len(got.Relations) != tt.wantRelations {
				t.Fatalf("relations = %+v, want %d", got.Relations, tt.wantRelations)
			}
		})
	}
}

func TestParseResponseTrimsFields(t *testing.T) {
	got := ParseResponse(`{"entities":[{"name":" 定投 ","type":" Strategy ","description":" 定期投资 "}]}`)
	if len(got.Entities) != 1 {
		t.Fatalf("entities = %+v", got.Entities)
	}
	e := got.Entities[0]
	if e.Name != "定投" || e.Type != "Strategy" || e.Description != "定期投资" {
		t.Fatalf("fields not trimmed: %+v", e)
	}
}
