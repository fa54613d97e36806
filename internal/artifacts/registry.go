// Package artifacts loads compiled-contract build output from the workspace
// and publishes it as observable shared state, so deployment pickers always
// reflect the latest compile.
package artifacts

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"sake/internal/logging"
	"sake/internal/state"
	"sake/internal/types"
)

// artifactFile is the on-disk shape of one compiled contract, as emitted by
// the usual solidity build pipelines.
type artifactFile struct {
	ContractName string    `json:"contractName"`
	SourceName   string    `json:"sourceName"`
	ABI          types.ABI `json:"abi"`
	Bytecode     string    `json:"bytecode"`
}

// Registry holds the compiled contracts of one workspace. The contract list
// is an observable store so the bridge can mirror it as shared state.
type Registry struct {
	mu    sync.Mutex
	dir   string
	byFQN map[string]types.CompiledContract
	store *state.Store[[]types.CompiledContract]
	log   *logging.Logger
}

// NewRegistry creates a registry for the build output directory dir.
func NewRegistry(dir string) *Registry {
	return &Registry{
		dir:   dir,
		byFQN: make(map[string]types.CompiledContract),
		store: state.New([]types.CompiledContract(nil)),
		log:   logging.Get(logging.CategoryArtifacts),
	}
}

// Store exposes the observable contract list.
func (r *Registry) Store() *state.Store[[]types.CompiledContract] { return r.store }

// Dir returns the watched build output directory.
func (r *Registry) Dir() string { return r.dir }

// LookupFQN returns the compiled contract with the given fully-qualified
// name, like "contracts/Token.sol:Token".
func (r *Registry) LookupFQN(fqn string) (types.CompiledContract, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cc, ok := r.byFQN[fqn]
	return cc, ok
}

// Reload walks the build directory and replaces the contract set with what it
// finds. A missing directory yields an empty set: the project simply has not
// compiled yet. Unparseable files are skipped with a warning so one bad
// artifact cannot hide the rest.
func (r *Registry) Reload() error {
	found := make(map[string]types.CompiledContract)

	err := filepath.WalkDir(r.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		// Debug output sits next to the artifacts in some pipelines.
		if strings.HasSuffix(path, ".dbg.json") {
			return nil
		}

		cc, err := parseArtifact(path)
		if err != nil {
			r.log.Warn("skipping artifact %s: %v", path, err)
			return nil
		}
		if cc.FQN == "" {
			return nil
		}
		found[cc.FQN] = cc
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return types.NewPersistenceError("artifacts.reload", err)
	}

	list := make([]types.CompiledContract, 0, len(found))
	for _, cc := range found {
		list = append(list, cc)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].FQN < list[j].FQN })

	r.mu.Lock()
	r.byFQN = found
	r.mu.Unlock()
	r.store.Set(list)

	r.log.Info("loaded %d compiled contracts from %s", len(list), r.dir)
	return nil
}

func parseArtifact(path string) (types.CompiledContract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.CompiledContract{}, err
	}

	var af artifactFile
	if err := json.Unmarshal(data, &af); err != nil {
		return types.CompiledContract{}, err
	}
	if af.ContractName == "" {
		return types.CompiledContract{}, fmt.Errorf("missing contractName")
	}

	source := af.SourceName
	if source == "" {
		source = filepath.Base(path)
	}

	// Interfaces and abstract contracts compile to an empty bytecode and
	// cannot be deployed, but their ABIs still matter for interaction.
	deployable := af.Bytecode != "" && af.Bytecode != "0x"

	return types.CompiledContract{
		FQN:          source + ":" + af.ContractName,
		Name:         af.ContractName,
		ABI:          af.ABI,
		IsDeployable: deployable,
	}, nil
}
