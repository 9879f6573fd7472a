package agent

// JSON schemas constraining structured LLM responses. Validation happens in
// the LLM gateway; agents still defensively check the decoded shapes.

var skeletonDaySchema = []byte(`{
  "type": "object",
  "required": ["location", "nodes"],
  "properties": {
    "location": {"type": "string"},
    "notes": {"type": "string"},
    "theme": {"type": "string"},
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["type", "title"],
        "properties": {
          "type": {"enum": ["attraction", "meal", "accommodation", "transport"]},
          "title": {"type": "string"},
          "start_time": {"type": "string"},
          "duration_min": {"type": "integer", "minimum": 0}
        }
      }
    }
  }
}`)

var populateSchema = []byte(`{
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "title"],
        "properties": {
          "id": {"type": "string"},
          "title": {"type": "string"},
          "location": {
            "type": "object",
            "properties": {
              "name": {"type": "string"},
              "address": {"type": "string"},
              "coordinates": {
                "type": "object",
                "required": ["lat", "lng"],
                "properties": {
                  "lat": {"type": "number"},
                  "lng": {"type": "number"}
                }
              }
            }
          },
          "timing": {
            "type": "object",
            "properties": {
              "start_time": {"type": "string"},
              "end_time": {"type": "string"},
              "duration_min": {"type": "integer", "minimum": 0}
            }
          },
          "cost": {
            "type": "object",
            "properties": {
              "amount": {"type": "number", "minimum": 0},
              "currency": {"type": "string"},
              "per": {"enum": ["person", "group", "night"]}
            }
          },
          "details": {"type": "object"},
          "tips": {
            "type": "object",
            "properties": {
              "travel": {"type": "string"},
              "warnings": {"type": "string"},
              "best_time": {"type": "string"}
            }
          },
          "links": {
            "type": "object",
            "properties": {
              "book": {"type": "string"},
              "details": {"type": "string"},
              "website": {"type": "string"},
              "phone": {"type": "string"}
            }
          }
        }
      }
    }
  }
}`)

var changeSetSchema = []byte(`{
  "type": "object",
  "required": ["ops"],
  "properties": {
    "scope": {"enum": ["trip", "day"]},
    "day": {"type": "integer", "minimum": 1},
    "ops": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["op"],
        "properties": {
          "op": {"enum": ["move", "insert", "delete", "replace", "update"]},
          "id": {"type": "string"},
          "day": {"type": "integer", "minimum": 1},
          "after": {"type": "string"},
          "start_time": {"type": "string"},
          "end_time": {"type": "string"},
          "node": {"type": "object"},
          "fields": {"type": "object"}
        }
      }
    }
  }
}`)

var placesSchema = []byte(`{
  "type": "object",
  "required": ["candidates"],
  "properties": {
    "candidates": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string"},
          "category": {"type": "string"},
          "rating": {"type": "number"},
          "address": {"type": "string"},
          "description": {"type": "string"}
        }
      }
    }
  }
}`)

var createRequestSchema = []byte(`{
  "type": "object",
  "required": ["destination", "start_date", "end_date"],
  "properties": {
    "destination": {"type": "string"},
    "start_date": {"type": "string"},
    "end_date": {"type": "string"},
    "party": {
      "type": "object",
      "properties": {
        "adults": {"type": "integer", "minimum": 0},
        "children": {"type": "integer", "minimum": 0}
      }
    },
    "budget_tier": {"type": "string"},
    "language": {"type": "string"},
    "interests": {"type": "array", "items": {"type": "string"}},
    "constraints": {"type": "array", "items": {"type": "string"}}
  }
}`)
