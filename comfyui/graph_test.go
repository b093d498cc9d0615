package comfyui

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"imagerouter/core"
)

const sampleWorkflow = `{
	"3": {
		"class_type": "KSampler",
		"inputs": {"seed": 156680208700286, "steps": 28, "cfg": 3.5, "denoise": 1.0, "model": ["4", 0]}
	},
	"4": {
		"class_type": "CheckpointLoaderSimple",
		"inputs": {"ckpt_name": "sd_xl_base_1.0.safetensors"}
	},
	"5": {
		"class_type": "EmptyLatentImage",
		"inputs": {"width": 512, "height": 512, "batch_size": 1}
	},
	"6": {
		"class_type": "CLIPTextEncode",
		"inputs": {"text": "placeholder positive", "clip": ["4", 1]}
	},
	"7": {
		"class_type": "CLIPTextEncode",
		"inputs": {"text": "placeholder negative", "clip": ["4", 1]}
	},
	"10": {
		"class_type": "SaveImage",
		"inputs": {"images": ["3", 0]}
	}
}`

func mustParse(t *testing.T, data string) *Graph {
	t.Helper()
	g, err := ParseGraph([]byte(data))
	if err != nil {
		t.Fatalf("ParseGraph failed: %v", err)
	}
	return g
}

func TestParseGraph_NumericOrder(t *testing.T) {
	g := mustParse(t, sampleWorkflow)

	// "10" must sort after "7": numeric comparison, not lexical.
	want := []string{"3", "4", "5", "6", "7", "10"}
	if got := g.NodeIDs(); !reflect.DeepEqual(got, want) {
		t.Errorf("NodeIDs() = %v, want %v", got, want)
	}
}

func TestFindNodeByType_FirstInOrder(t *testing.T) {
	g := mustParse(t, sampleWorkflow)

	id, ok := g.FindNodeByType("CLIPTextEncode")
	if !ok {
		t.Fatal("expected to find a text encoder")
	}
	// Node 6 precedes node 7 in iteration order.
	if id != "6" {
		t.Errorf("expected first encoder to be node 6, got %s", id)
	}

	if _, ok := g.FindNodeByType("LoadImage"); ok {
		t.Error("did not expect to find a LoadImage node")
	}
}

func TestFindNodesByTypes(t *testing.T) {
	g := mustParse(t, sampleWorkflow)

	encoders := g.FindNodesByTypes("CLIPTextEncode", "CLIPTextEncodeSDXL")
	want := []string{"6", "7"}
	if !reflect.DeepEqual(encoders, want) {
		t.Errorf("FindNodesByTypes = %v, want %v", encoders, want)
	}
}

func TestGraph_CloneIsIndependent(t *testing.T) {
	g := mustParse(t, sampleWorkflow)
	clone := g.Clone()

	node, _ := clone.Node("6")
	node.Inputs["text"] = "mutated"

	original, _ := g.Node("6")
	if original.Inputs["text"] != "placeholder positive" {
		t.Error("mutating the clone changed the original graph")
	}

	// Nested connection arrays must be copied too.
	sampler, _ := clone.Node("3")
	sampler.Inputs["model"].([]interface{})[0] = "999"
	origSampler, _ := g.Node("3")
	if origSampler.Inputs["model"].([]interface{})[0] != "4" {
		t.Error("mutating a nested clone value changed the original")
	}
}

func TestGraph_ModelName(t *testing.T) {
	g := mustParse(t, sampleWorkflow)
	if got := g.ModelName(); got != "sd_xl_base_1.0.safetensors" {
		t.Errorf("ModelName() = %q, want checkpoint name", got)
	}

	unetGraph := mustParse(t, `{
		"1": {"class_type": "UNETLoader", "inputs": {"unet_name": "flux1-dev.safetensors"}}
	}`)
	if got := unetGraph.ModelName(); got != "flux1-dev.safetensors" {
		t.Errorf("ModelName() = %q, want unet name", got)
	}

	empty := mustParse(t, `{"1": {"class_type": "SaveImage", "inputs": {}}}`)
	if got := empty.ModelName(); got != "" {
		t.Errorf("ModelName() = %q, want empty", got)
	}
}

func TestLoadGraph_MissingFile(t *testing.T) {
	_, err := LoadGraph(filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Fatal("expected error for missing template")
	}
	if core.ErrorCode(err) != core.ErrCodeTemplate {
		t.Errorf("expected template error code, got %s", core.ErrorCode(err))
	}
}

func TestLoadGraph_UnparsableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadGraph(path)
	if err == nil {
		t.Fatal("expected error for unparsable template")
	}
	if core.ErrorCode(err) != core.ErrCodeTemplate {
		t.Errorf("expected template error code, got %s", core.ErrorCode(err))
	}
}

func TestLoadGraph_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflow.json")
	if err := os.WriteFile(path, []byte(sampleWorkflow), 0o644); err != nil {
		t.Fatal(err)
	}

	g, err := LoadGraph(path)
	if err != nil {
		t.Fatalf("LoadGraph failed: %v", err)
	}
	if g.Len() != 6 {
		t.Errorf("expected 6 nodes, got %d", g.Len())
	}
}
