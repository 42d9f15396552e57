// Package project models the layout conventions of the dbt project: the four
// model layers with their numbered folders and name prefixes, and the
// canonical location of a model file within layer and domain.
package project

import "fmt"

// Layer is one of the four architectural tiers models are organized in.
type Layer struct {
	Name         string
	Folder       string
	Abbreviation string
}

// The fixed set of layers, in dependency order.
var Layers = []Layer{
	{Name: "staging", Folder: "1_staging", Abbreviation: "stg"},
	{Name: "intermediate", Folder: "2_intermediate", Abbreviation: "int"},
	{Name: "marts", Folder: "3_marts", Abbreviation: "mrt"},
	{Name: "bespoke", Folder: "4_bespoke", Abbreviation: "bsp"},
}

// LayerByName returns the layer with the given name.
func LayerByName(name string) (Layer, error) {
	for _, l := range Layers {
		if l.Name == name {
			return l, nil
		}
	}
	return Layer{}, fmt.Errorf("invalid layer: %q", name)
}

// layerByFolder returns the layer using the given folder name.
func layerByFolder(folder string) (Layer, bool) {
	for _, l := range Layers {
		if l.Folder == folder {
			return l, true
		}
	}
	return Layer{}, false
}

// LayerNames returns the layer names for use as chooser options.
func LayerNames() []string {
	names := make([]string, len(Layers))
	for i, l := range Layers {
		names[i] = l.Name
	}
	return names
}

// MaterializationChoices lists the supported model materializations.
func MaterializationChoices() []string {
	return []string{"view", "table", "incremental", "ephemeral", "scd2"}
}
