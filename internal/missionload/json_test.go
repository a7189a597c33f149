package missionload

import (
	"testing"

	"github.com/reqon/reqon/internal/mission"
)

const sampleMission = `{
  "name": "demo",
  "schemas": {
    "Post": {
      "fields": {
        "id": {"type": "int"},
        "title": {"type": "string"}
      }
    }
  },
  "sources": {
    "blog": {
      "baseUrl": "https://jp.test",
      "auth": "none",
      "operations": {
        "listPosts": {"method": "GET", "path": "/posts", "responseSchema": "Post"}
      }
    }
  },
  "stores": {
    "posts": {"kind": "memory", "identifier": "posts"}
  },
  "actions": {
    "sync": {
      "steps": [
        {"type": "fetch", "source": "blog", "method": "GET", "path": "\"/posts\"", "responseSchema": "Post"},
        {"type": "store", "source": "response", "store": "posts", "key": "response.id", "upsert": true}
      ]
    }
  },
  "pipeline": [{"actions": ["sync"]}]
}`

func TestDecodeResolvesResponseSchemaOnSourceOperation(t *testing.T) {
	m, err := Decode([]byte(sampleMission))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	op, ok := m.Sources["blog"].Operations["listPosts"]
	if !ok {
		t.Fatalf("expected operation listPosts")
	}
	if op.ResponseSchema == nil || op.ResponseSchema.Name != "Post" {
		t.Fatalf("expected operation response schema Post, got %+v", op.ResponseSchema)
	}
}

func TestDecodeResolvesResponseSchemaOnFetchStep(t *testing.T) {
	m, err := Decode([]byte(sampleMission))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	fetch, ok := m.Actions["sync"].Steps[0].(*mission.FetchStep)
	if !ok {
		t.Fatalf("expected a FetchStep, got %T", m.Actions["sync"].Steps[0])
	}
	if fetch.ResponseSchema == nil || fetch.ResponseSchema.Name != "Post" {
		t.Fatalf("expected fetch step response schema Post, got %+v", fetch.ResponseSchema)
	}
}

func TestDecodeBuildsStoreStep(t *testing.T) {
	m, err := Decode([]byte(sampleMission))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	store, ok := m.Actions["sync"].Steps[1].(*mission.StoreStep)
	if !ok {
		t.Fatalf("expected a StoreStep, got %T", m.Actions["sync"].Steps[1])
	}
	if store.Store != "posts" || !store.Options.Upsert {
		t.Fatalf("unexpected store step: %+v", store)
	}
}
