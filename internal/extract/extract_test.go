package extract

import (
	"testing"

	"github.com/syntax-syndicate/codegate-alt/internal/model"
)

func req(text string) *model.RequestRecord {
	return &model.RequestRecord{Messages: []model.Message{{Role: model.RoleUser, Parts: model.TextParts(text)}}}
}

func hasPackage(pkgs []model.ExtractedPackage, ecosystem, name string, loc model.ExtractedPackageLocation) bool {
	for _, p := range pkgs {
		if p.Ecosystem == ecosystem && p.Name == name && p.Location == loc {
			return true
		}
	}
	return false
}

func TestExtract_GoCodeFenceImports(t *testing.T) {
	e := New()
	text := "```go\nimport (\n\t\"fmt\"\n\t\"github.com/google/uuid\"\n)\n```"
	pkgs := e.Extract(req(text))
	if !hasPackage(pkgs, "go", "github.com/google/uuid", model.LocationCodeImport) {
		t.Fatalf("missing github.com/google/uuid, got %+v", pkgs)
	}
	if hasPackage(pkgs, "go", "fmt", model.LocationCodeImport) {
		t.Errorf("stdlib import fmt should be excluded, got %+v", pkgs)
	}
}

func TestExtract_GoCodeFenceImports_NoPackageClause(t *testing.T) {
	e := New()
	text := "```go\nimport \"github.com/pkg/errors\"\n```"
	pkgs := e.Extract(req(text))
	if !hasPackage(pkgs, "go", "github.com/pkg/errors", model.LocationCodeImport) {
		t.Fatalf("expected import without package clause to still parse, got %+v", pkgs)
	}
}

func TestExtract_PythonImport(t *testing.T) {
	e := New()
	text := "```python\nimport numpy as np\nfrom requests.auth import HTTPBasicAuth\n```"
	pkgs := e.Extract(req(text))
	if !hasPackage(pkgs, "pypi", "numpy", model.LocationCodeImport) {
		t.Fatalf("missing numpy, got %+v", pkgs)
	}
	if !hasPackage(pkgs, "pypi", "requests", model.LocationCodeImport) {
		t.Fatalf("missing requests, got %+v", pkgs)
	}
}

func TestExtract_JavaScriptImportAndRequire(t *testing.T) {
	e := New()
	text := "```javascript\nimport React from 'react';\nconst lodash = require('lodash/debounce');\n```"
	pkgs := e.Extract(req(text))
	if !hasPackage(pkgs, "npm", "react", model.LocationCodeImport) {
		t.Fatalf("missing react, got %+v", pkgs)
	}
	if !hasPackage(pkgs, "npm", "lodash", model.LocationCodeImport) {
		t.Fatalf("missing lodash, got %+v", pkgs)
	}
}

func TestExtract_JavaScriptScopedPackage(t *testing.T) {
	e := New()
	text := "```javascript\nimport { z } from '@scope/pkg';\n```"
	pkgs := e.Extract(req(text))
	if !hasPackage(pkgs, "npm", "@scope/pkg", model.LocationCodeImport) {
		t.Fatalf("missing scoped package, got %+v", pkgs)
	}
}

func TestExtract_RustUseAndExternCrate(t *testing.T) {
	e := New()
	text := "```rust\nuse serde::Deserialize;\nextern crate tokio;\n```"
	pkgs := e.Extract(req(text))
	if !hasPackage(pkgs, "crates", "serde", model.LocationCodeImport) {
		t.Fatalf("missing serde, got %+v", pkgs)
	}
	if !hasPackage(pkgs, "crates", "tokio", model.LocationCodeImport) {
		t.Fatalf("missing tokio, got %+v", pkgs)
	}
}

func TestExtract_JavaImport(t *testing.T) {
	e := New()
	text := "```java\nimport com.fasterxml.jackson.databind.ObjectMapper;\n```"
	pkgs := e.Extract(req(text))
	if !hasPackage(pkgs, "maven", "com.fasterxml.jackson.databind.ObjectMapper", model.LocationCodeImport) {
		t.Fatalf("missing jackson import, got %+v", pkgs)
	}
}

func TestExtract_RequirementsTxtManifest(t *testing.T) {
	e := New()
	text := "```requirements.txt\nrequests==2.31.0\n# a comment\nflask>=2.0\n-e git+https://example.com/x\n```"
	pkgs := e.Extract(req(text))
	if !hasPackage(pkgs, "pypi", "requests", model.LocationManifest) {
		t.Fatalf("missing requests, got %+v", pkgs)
	}
	if !hasPackage(pkgs, "pypi", "flask", model.LocationManifest) {
		t.Fatalf("missing flask, got %+v", pkgs)
	}
}

func TestExtract_PackageJSONManifest(t *testing.T) {
	e := New()
	text := "```json title=\"package.json\"\n{\"dependencies\":{\"express\":\"^4.0.0\"},\"devDependencies\":{\"jest\":\"^29.0.0\"}}\n```"
	pkgs := e.Extract(req(text))
	if !hasPackage(pkgs, "npm", "express", model.LocationManifest) {
		t.Fatalf("missing express, got %+v", pkgs)
	}
	if !hasPackage(pkgs, "npm", "jest", model.LocationManifest) {
		t.Fatalf("missing jest, got %+v", pkgs)
	}
}

func TestExtract_PyprojectTOMLManifest(t *testing.T) {
	e := New()
	text := "```toml title=\"pyproject.toml\"\n[project]\ndependencies = [\"requests>=2.0\", \"click\"]\n```"
	pkgs := e.Extract(req(text))
	if !hasPackage(pkgs, "pypi", "requests", model.LocationManifest) {
		t.Fatalf("missing requests, got %+v", pkgs)
	}
	if !hasPackage(pkgs, "pypi", "click", model.LocationManifest) {
		t.Fatalf("missing click, got %+v", pkgs)
	}
}

func TestExtract_GoModManifest(t *testing.T) {
	e := New()
	text := "```go.mod\nmodule example.com/x\n\ngo 1.22\n\nrequire (\n\tgithub.com/google/uuid v1.6.0\n\tgithub.com/stretchr/testify v1.9.0 // indirect\n)\n```"
	pkgs := e.Extract(req(text))
	if !hasPackage(pkgs, "go", "github.com/google/uuid", model.LocationManifest) {
		t.Fatalf("missing uuid, got %+v", pkgs)
	}
	if hasPackage(pkgs, "go", "github.com/stretchr/testify", model.LocationManifest) {
		t.Errorf("indirect dependency should be excluded, got %+v", pkgs)
	}
}

func TestExtract_FreeTextInstallMentions(t *testing.T) {
	e := New()
	text := "you should run `pip install evil-pkg` to get started, or `npm install left-pad` works too"
	pkgs := e.Extract(req(text))
	if !hasPackage(pkgs, "pypi", "evil-pkg", model.LocationFreeText) {
		t.Fatalf("missing pip-install mention, got %+v", pkgs)
	}
	if !hasPackage(pkgs, "npm", "left-pad", model.LocationFreeText) {
		t.Fatalf("missing npm-install mention, got %+v", pkgs)
	}
}

func TestExtract_FreeTextDoesNotDuplicateFencedImports(t *testing.T) {
	e := New()
	text := "Use `pip install requests` and then:\n```python\nimport requests\n```"
	pkgs := e.Extract(req(text))
	count := 0
	for _, p := range pkgs {
		if p.Ecosystem == "pypi" && p.Name == "requests" {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("expected one free-text and one code-import entry for requests, got %d: %+v", count, pkgs)
	}
}

func TestExtract_EmptyRequestYieldsNoPackages(t *testing.T) {
	e := New()
	pkgs := e.Extract(&model.RequestRecord{})
	if len(pkgs) != 0 {
		t.Errorf("expected no packages, got %+v", pkgs)
	}
}
