package sde

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Index names. Each index is derived from exactly the source files listed in
// indexFiles and can be rebuilt independently of every other index.
const (
	IndexTypes          = "types"
	IndexCategories     = "categories"
	IndexGroups         = "groups"
	IndexMarketGroups   = "market_groups"
	IndexBlueprints     = "blueprints"
	IndexStations       = "stations"
	IndexRegions        = "regions"
	IndexConstellations = "constellations"
	IndexSolarSystems   = "solar_systems"
)

// Source file names inside the SDE directory.
const (
	fileTypes          = "types.jsonl"
	fileCategories     = "categories.jsonl"
	fileGroups         = "groups.jsonl"
	fileMarketGroups   = "marketGroups.jsonl"
	fileBlueprints     = "blueprints.jsonl"
	fileStations       = "npcStations.jsonl"
	fileRegions        = "mapRegions.jsonl"
	fileConstellations = "mapConstellations.jsonl"
	fileSolarSystems   = "mapSolarSystems.jsonl"
)

var indexFiles = map[string][]string{
	IndexTypes:          {fileTypes},
	IndexCategories:     {fileCategories},
	IndexGroups:         {fileGroups},
	IndexMarketGroups:   {fileMarketGroups},
	IndexBlueprints:     {fileBlueprints},
	IndexStations:       {fileStations},
	IndexRegions:        {fileRegions},
	IndexConstellations: {fileConstellations},
	IndexSolarSystems:   {fileSolarSystems},
}

// IndexNames returns every index name in deterministic order.
func IndexNames() []string {
	names := make([]string, 0, len(indexFiles))
	for name := range indexFiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TrackedFiles returns the union of all source file names, sorted.
func TrackedFiles() []string {
	seen := make(map[string]bool)
	var files []string
	for _, deps := range indexFiles {
		for _, f := range deps {
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}
	sort.Strings(files)
	return files
}

// Parser enumerates SDE entities, one method per index kind. The cache treats
// implementations as opaque aside from the per-index source file association
// used for signature tracking.
type Parser interface {
	Types() (map[int64]Type, error)
	Categories() (map[int64]Category, error)
	Groups() (map[int64]Group, error)
	MarketGroups() (map[int64]MarketGroup, error)
	BlueprintTypeIDs() ([]int64, error)
	Stations() (map[int64]Station, error)
	RegionNames() (map[int64]string, error)
	Constellations() (map[int64]Constellation, error)
	SolarSystems() (map[int64]SolarSystem, error)
}

// JSONLParser reads SDE entities from line-delimited JSON files in a single
// directory. Individual malformed lines are skipped; a missing file is an
// error for the index that depends on it.
type JSONLParser struct {
	dir string
}

// NewJSONLParser creates a parser rooted at the given SDE directory.
func NewJSONLParser(dir string) *JSONLParser {
	return &JSONLParser{dir: dir}
}

// localizedText decodes SDE name/description fields that are either a plain
// string or a translation object keyed by language code. English wins.
type localizedText string

func (t *localizedText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = localizedText(s)
		return nil
	}
	var translations map[string]string
	if err := json.Unmarshal(data, &translations); err != nil {
		return err
	}
	if en, ok := translations["en"]; ok {
		*t = localizedText(en)
		return nil
	}
	// No English entry: fall back to the first translation, sorted for
	// determinism.
	langs := make([]string, 0, len(translations))
	for lang := range translations {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	if len(langs) > 0 {
		*t = localizedText(translations[langs[0]])
	}
	return nil
}

type typeRow struct {
	Key           int64         `json:"_key"`
	GroupID       int64         `json:"groupID"`
	MarketGroupID int64         `json:"marketGroupID"`
	Name          localizedText `json:"name"`
	Published     bool          `json:"published"`
	BasePrice     float64       `json:"basePrice"`
	Volume        float64       `json:"volume"`
	PortionSize   int           `json:"portionSize"`
}

type categoryRow struct {
	Key       int64         `json:"_key"`
	Name      localizedText `json:"name"`
	Published bool          `json:"published"`
}

type groupRow struct {
	Key        int64         `json:"_key"`
	CategoryID int64         `json:"categoryID"`
	Name       localizedText `json:"name"`
	Published  bool          `json:"published"`
}

type marketGroupRow struct {
	Key           int64         `json:"_key"`
	ParentGroupID int64         `json:"parentGroupID"`
	Name          localizedText `json:"name"`
	HasTypes      bool          `json:"hasTypes"`
}

type blueprintRow struct {
	BlueprintTypeID int64 `json:"blueprintTypeID"`
}

type stationRow struct {
	Key           int64         `json:"_key"`
	Name          localizedText `json:"name"`
	SolarSystemID int64         `json:"solarSystemID"`
}

type regionRow struct {
	Key  int64         `json:"_key"`
	Name localizedText `json:"name"`
}

type constellationRow struct {
	Key      int64         `json:"_key"`
	Name     localizedText `json:"name"`
	RegionID int64         `json:"regionID"`
}

type solarSystemRow struct {
	Key             int64         `json:"_key"`
	Name            localizedText `json:"name"`
	ConstellationID int64         `json:"constellationID"`
}

// Types loads the type index from types.jsonl.
func (p *JSONLParser) Types() (map[int64]Type, error) {
	out := make(map[int64]Type)
	err := p.eachLine(fileTypes, func(line []byte) error {
		var row typeRow
		if err := json.Unmarshal(line, &row); err != nil {
			return err
		}
		out[row.Key] = Type{
			ID:            row.Key,
			GroupID:       row.GroupID,
			MarketGroupID: row.MarketGroupID,
			Name:          string(row.Name),
			Published:     row.Published,
			BasePrice:     row.BasePrice,
			Volume:        row.Volume,
			PortionSize:   row.PortionSize,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Categories loads the category index from categories.jsonl.
func (p *JSONLParser) Categories() (map[int64]Category, error) {
	out := make(map[int64]Category)
	err := p.eachLine(fileCategories, func(line []byte) error {
		var row categoryRow
		if err := json.Unmarshal(line, &row); err != nil {
			return err
		}
		out[row.Key] = Category{ID: row.Key, Name: string(row.Name), Published: row.Published}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Groups loads the group index from groups.jsonl.
func (p *JSONLParser) Groups() (map[int64]Group, error) {
	out := make(map[int64]Group)
	err := p.eachLine(fileGroups, func(line []byte) error {
		var row groupRow
		if err := json.Unmarshal(line, &row); err != nil {
			return err
		}
		out[row.Key] = Group{ID: row.Key, CategoryID: row.CategoryID, Name: string(row.Name), Published: row.Published}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarketGroups loads the market group index from marketGroups.jsonl.
func (p *JSONLParser) MarketGroups() (map[int64]MarketGroup, error) {
	out := make(map[int64]MarketGroup)
	err := p.eachLine(fileMarketGroups, func(line []byte) error {
		var row marketGroupRow
		if err := json.Unmarshal(line, &row); err != nil {
			return err
		}
		out[row.Key] = MarketGroup{ID: row.Key, ParentGroupID: row.ParentGroupID, Name: string(row.Name), HasTypes: row.HasTypes}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BlueprintTypeIDs loads the set of blueprint type ids from blueprints.jsonl.
func (p *JSONLParser) BlueprintTypeIDs() ([]int64, error) {
	var out []int64
	err := p.eachLine(fileBlueprints, func(line []byte) error {
		var row blueprintRow
		if err := json.Unmarshal(line, &row); err != nil {
			return err
		}
		if row.BlueprintTypeID != 0 {
			out = append(out, row.BlueprintTypeID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Stations loads the NPC station index from npcStations.jsonl.
func (p *JSONLParser) Stations() (map[int64]Station, error) {
	out := make(map[int64]Station)
	err := p.eachLine(fileStations, func(line []byte) error {
		var row stationRow
		if err := json.Unmarshal(line, &row); err != nil {
			return err
		}
		out[row.Key] = Station{ID: row.Key, Name: string(row.Name), SystemID: row.SolarSystemID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RegionNames loads the region name map from mapRegions.jsonl.
func (p *JSONLParser) RegionNames() (map[int64]string, error) {
	out := make(map[int64]string)
	err := p.eachLine(fileRegions, func(line []byte) error {
		var row regionRow
		if err := json.Unmarshal(line, &row); err != nil {
			return err
		}
		out[row.Key] = string(row.Name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Constellations loads constellation names and region topology from
// mapConstellations.jsonl.
func (p *JSONLParser) Constellations() (map[int64]Constellation, error) {
	out := make(map[int64]Constellation)
	err := p.eachLine(fileConstellations, func(line []byte) error {
		var row constellationRow
		if err := json.Unmarshal(line, &row); err != nil {
			return err
		}
		out[row.Key] = Constellation{ID: row.Key, Name: string(row.Name), RegionID: row.RegionID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SolarSystems loads system names and constellation topology from
// mapSolarSystems.jsonl.
func (p *JSONLParser) SolarSystems() (map[int64]SolarSystem, error) {
	out := make(map[int64]SolarSystem)
	err := p.eachLine(fileSolarSystems, func(line []byte) error {
		var row solarSystemRow
		if err := json.Unmarshal(line, &row); err != nil {
			return err
		}
		out[row.Key] = SolarSystem{ID: row.Key, Name: string(row.Name), ConstellationID: row.ConstellationID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// eachLine streams a JSONL file line by line. Lines that fail the handler are
// skipped with a debug log so one bad record never poisons a whole index.
func (p *JSONLParser) eachLine(name string, handle func(line []byte) error) error {
	path := filepath.Join(p.dir, name)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open SDE file %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	// SDE rows can be large; default scanner limit is too small.
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	skipped := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := handle(line); err != nil {
			skipped++
			slog.Debug("Skipping malformed SDE line",
				"file", name,
				"line", lineNo,
				"error", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error scanning SDE file %s: %w", path, err)
	}
	if skipped > 0 {
		slog.Warn("Skipped malformed SDE lines", "file", name, "skipped", skipped)
	}
	return nil
}
