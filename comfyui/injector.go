// Package comfyui implements the local node-graph renderer backend.
//
// injector.go applies a generation request's semantic fields onto a
// workflow graph. Injection is field-presence-gated: a field is only
// mutated if the template already declares it, and a missing optional
// node simply means that capability is not exercised for this template.
package comfyui

import (
	"go.uber.org/zap"

	"imagerouter/logging"
)

// Mode tokens injected into mode-switch nodes. The values are a template
// authoring convention: workflow templates that branch on generation mode
// declare a switch node whose downstream routing compares against these
// two strings, so templates and injector must agree on the spelling.
const (
	ModeTextToImage  = "T2I"
	ModeImageToImage = "I2I"
)

// textEncoderTypes are the node class types that carry prompt text, in
// the order variants are recognized. Both the single-field (text) and
// dual-field (text_g/text_l) encoder shapes are supported.
var textEncoderTypes = []string{
	"CLIPTextEncode",
	"CLIPTextEncodeSDXL",
	"CLIPTextEncodeSDXLRefiner",
}

// Params holds the semantic fields injected into a workflow graph.
type Params struct {
	PositivePrompt string
	NegativePrompt string

	// Seed is optional; nil leaves the template's backend default.
	Seed *int64

	Steps  int
	CFG    float64
	Width  int
	Height int

	// UploadedImage is the backend-local handle of an uploaded reference
	// image, set for image-edit requests.
	UploadedImage string

	// Denoise is only set for image-edit mode; nil leaves the template
	// default.
	Denoise *float64

	// ModeToken selects the generate/edit branch in templates that carry
	// a mode-switch node.
	ModeToken string
}

// Injector mutates workflow graphs in place. Callers pass a Clone of the
// parsed template; the template itself is never altered.
type Injector struct {
	logger *logging.Logger
}

// NewInjector creates an Injector. A nil logger is replaced with a no-op.
func NewInjector(logger *logging.Logger) *Injector {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Injector{logger: logger.Named("injector")}
}

// Inject applies params onto the graph. It never fails: optional nodes
// that a template lacks are skipped, and only fields the template already
// declares are written.
func (inj *Injector) Inject(g *Graph, p Params) {
	inj.injectPrompts(g, p)
	inj.injectSampler(g, p)
	inj.injectDimensions(g, p)
	inj.injectImageLoader(g, p)
	inj.injectModeSwitch(g, p)
	inj.injectGuidance(g, p)
	inj.injectVLMQuery(g, p)
}

// injectPrompts writes the positive prompt into the first text encoder in
// iteration order and the negative prompt into the second. The authoring
// convention places the positive encoder first, so ordering is the
// contract here, not an accident. Encoders beyond the second are left
// untouched and flagged, since the template author's intent cannot be
// guessed.
func (inj *Injector) injectPrompts(g *Graph, p Params) {
	encoders := g.FindNodesByTypes(textEncoderTypes...)
	if len(encoders) == 0 {
		return
	}

	if len(encoders) > 2 {
		inj.logger.Warn("template has more than two text encoder nodes, extra encoders left untouched",
			zap.Int("count", len(encoders)),
			zap.Strings("node_ids", encoders))
	}

	if node, ok := g.Node(encoders[0]); ok {
		setPromptText(node, p.PositivePrompt)
	}
	if len(encoders) > 1 && p.NegativePrompt != "" {
		if node, ok := g.Node(encoders[1]); ok {
			setPromptText(node, p.NegativePrompt)
		}
	}
}

// setPromptText writes prompt text into whichever text field shape the
// encoder declares: text, or text_g (and text_l when also present).
func setPromptText(node *Node, text string) {
	if _, ok := node.Inputs["text"]; ok {
		node.Inputs["text"] = text
		return
	}
	if _, ok := node.Inputs["text_g"]; ok {
		node.Inputs["text_g"] = text
		if _, ok := node.Inputs["text_l"]; ok {
			node.Inputs["text_l"] = text
		}
	}
}

func (inj *Injector) injectSampler(g *Graph, p Params) {
	id, ok := g.FindNodeByType("KSampler")
	if !ok {
		return
	}
	node, _ := g.Node(id)

	if p.Seed != nil {
		setIfPresent(node, "seed", *p.Seed)
	}
	setIfPresent(node, "steps", p.Steps)
	setIfPresent(node, "cfg", p.CFG)
	if p.Denoise != nil {
		setIfPresent(node, "denoise", *p.Denoise)
	}
}

func (inj *Injector) injectDimensions(g *Graph, p Params) {
	id, ok := g.FindNodeByType("EmptyLatentImage")
	if !ok {
		id, ok = g.FindNodeByType("EmptySD3LatentImage")
	}
	if !ok {
		return
	}
	node, _ := g.Node(id)
	setIfPresent(node, "width", p.Width)
	setIfPresent(node, "height", p.Height)
}

func (inj *Injector) injectImageLoader(g *Graph, p Params) {
	if p.UploadedImage == "" {
		return
	}
	id, ok := g.FindNodeByType("LoadImage")
	if !ok {
		return
	}
	node, _ := g.Node(id)
	if _, ok := node.Inputs["image"]; ok {
		node.Inputs["image"] = p.UploadedImage
	} else if _, ok := node.Inputs["filename"]; ok {
		node.Inputs["filename"] = p.UploadedImage
	}
}

func (inj *Injector) injectModeSwitch(g *Graph, p Params) {
	if p.ModeToken == "" {
		return
	}
	id, ok := g.FindNodeByType("AnySwitch")
	if !ok {
		id, ok = g.FindNodeByType("Primitive")
	}
	if !ok {
		return
	}
	node, _ := g.Node(id)
	switch {
	case hasInput(node, "value"):
		node.Inputs["value"] = p.ModeToken
	case hasInput(node, "text"):
		node.Inputs["text"] = p.ModeToken
	case hasInput(node, "select"):
		node.Inputs["select"] = p.ModeToken
	}
}

// injectGuidance overwrites the guidance field of a FluxGuidance node with
// the request's guidance scale. Flux architectures separate guidance
// strength from the sampler's own cfg.
func (inj *Injector) injectGuidance(g *Graph, p Params) {
	id, ok := g.FindNodeByType("FluxGuidance")
	if !ok {
		return
	}
	node, _ := g.Node(id)
	setIfPresent(node, "guidance", p.CFG)
}

// injectVLMQuery feeds the positive prompt to a vision-language node when
// the template carries one.
func (inj *Injector) injectVLMQuery(g *Graph, p Params) {
	id, ok := g.FindNodeByType("Qwen2-VL-Instruct")
	if !ok {
		return
	}
	node, _ := g.Node(id)
	setIfPresent(node, "query", p.PositivePrompt)
}

func hasInput(node *Node, field string) bool {
	_, ok := node.Inputs[field]
	return ok
}

func setIfPresent(node *Node, field string, value interface{}) {
	if _, ok := node.Inputs[field]; ok {
		node.Inputs[field] = value
	}
}
