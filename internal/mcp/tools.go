package mcp

// ToolDefinitions is the fixed tool catalog advertised by tools/list.
// Dispatch in invoke() must cover every name listed here.
func ToolDefinitions() []map[string]any {
	return []map[string]any{
		{
			"name":        "find_definition",
			"description": "Find the definition of the symbol at a position, with its enclosing symbol path",
			"inputSchema": positionSchema(nil, "file_path"),
		},
		{
			"name":        "find_references",
			"description": "Find all references to the symbol at a position",
			"inputSchema": positionSchema(map[string]any{
				"include_declaration": map[string]string{"type": "boolean", "description": "Include the declaration itself"},
			}, "file_path"),
		},
		{
			"name":        "get_diagnostics",
			"description": "Return the latest published diagnostics for a file",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"file_path": map[string]string{"type": "string", "description": "Path relative to the workspace root"},
				},
				"required": []string{"file_path"},
			},
		},
		{
			"name":        "workspace_symbols",
			"description": "Search symbols across the whole workspace",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]string{"type": "string"},
				},
				"required": []string{"query"},
			},
		},
		{
			"name":        "rename_symbol",
			"description": "Rename the symbol at a position across the workspace",
			"inputSchema": positionSchema(map[string]any{
				"new_name": map[string]string{"type": "string"},
			}, "file_path", "new_name"),
		},
		{
			"name":        "format_code",
			"description": "Format a file and return the text edits",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"file_path": map[string]string{"type": "string"},
				},
				"required": []string{"file_path"},
			},
		},
		{
			"name":        "organize_imports",
			"description": "Return code actions that organize the file's use statements",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"file_path": map[string]string{"type": "string"},
				},
				"required": []string{"file_path"},
			},
		},
		{
			"name":        "get_type_hierarchy",
			"description": "Supertypes and subtypes of the type at a position",
			"inputSchema": positionSchema(nil, "file_path"),
		},
		{
			"name":        "inline_function",
			"description": "Return inline refactoring actions for the call or definition at a position",
			"inputSchema": positionSchema(nil, "file_path"),
		},
		{
			"name":        "change_signature",
			"description": "Return signature-rewrite refactoring actions for the function at a position",
			"inputSchema": positionSchema(nil, "file_path"),
		},
		{
			"name":        "extract_function",
			"description": "Return extract-function actions for a source range",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"file_path":       map[string]string{"type": "string"},
					"start_line":      map[string]string{"type": "integer", "description": "Zero-based"},
					"start_character": map[string]string{"type": "integer"},
					"end_line":        map[string]string{"type": "integer"},
					"end_character":   map[string]string{"type": "integer"},
				},
				"required": []string{"file_path", "start_line", "end_line"},
			},
		},
		{
			"name":        "analyze_manifest",
			"description": "Parse Cargo.toml: package identity, dependencies, features",
			"inputSchema": emptySchema(),
		},
		{
			"name":        "run_cargo_check",
			"description": "Run cargo check under the configured deadline and output cap",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"extra_args": map[string]any{"type": "array", "items": map[string]string{"type": "string"}},
				},
			},
		},
		{
			"name":        "apply_clippy_suggestions",
			"description": "Run cargo clippy, optionally with --fix",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"fix":        map[string]string{"type": "boolean", "description": "Apply machine-applicable suggestions"},
					"extra_args": map[string]any{"type": "array", "items": map[string]string{"type": "string"}},
				},
			},
		},
		{
			"name":        "validate_lifetimes",
			"description": "Report lifetime and borrow-check findings for a file or the whole workspace",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"file_path": map[string]string{"type": "string", "description": "Limit findings to one file; omit to check the workspace"},
				},
			},
		},
		{
			"name":        "suggest_dependencies",
			"description": "Suggest crates that are used in source but missing from Cargo.toml",
			"inputSchema": emptySchema(),
		},
		{
			"name":        "generate_struct",
			"description": "Render a struct definition, optionally appending it to a file",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]string{"type": "string"},
					"fields": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"name": map[string]string{"type": "string"},
								"type": map[string]string{"type": "string"},
							},
							"required": []string{"name", "type"},
						},
					},
					"derives":   map[string]any{"type": "array", "items": map[string]string{"type": "string"}},
					"file_path": map[string]string{"type": "string", "description": "Append to this workspace file"},
				},
				"required": []string{"name"},
			},
		},
		{
			"name":        "generate_enum",
			"description": "Render an enum definition, optionally appending it to a file",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]string{"type": "string"},
					"variants": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"name":  map[string]string{"type": "string"},
								"tuple": map[string]any{"type": "array", "items": map[string]string{"type": "string"}},
								"fields": map[string]any{
									"type": "array",
									"items": map[string]any{
										"type": "object",
										"properties": map[string]any{
											"name": map[string]string{"type": "string"},
											"type": map[string]string{"type": "string"},
										},
										"required": []string{"name", "type"},
									},
								},
							},
							"required": []string{"name"},
						},
					},
					"derives":   map[string]any{"type": "array", "items": map[string]string{"type": "string"}},
					"file_path": map[string]string{"type": "string"},
				},
				"required": []string{"name", "variants"},
			},
		},
		{
			"name":        "generate_trait_impl",
			"description": "Render a trait impl skeleton with todo!() bodies",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"trait_name": map[string]string{"type": "string"},
					"type_name":  map[string]string{"type": "string"},
					"methods":    map[string]any{"type": "array", "items": map[string]string{"type": "string"}, "description": "Method signatures, e.g. fn len(&self) -> usize"},
					"file_path":  map[string]string{"type": "string"},
				},
				"required": []string{"trait_name", "type_name"},
			},
		},
		{
			"name":        "generate_tests",
			"description": "Render a #[cfg(test)] module for a target function",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"target_function": map[string]string{"type": "string"},
					"cases":           map[string]any{"type": "array", "items": map[string]string{"type": "string"}, "description": "Case names, one test per case"},
					"file_path":       map[string]string{"type": "string"},
				},
				"required": []string{"target_function"},
			},
		},
		{
			"name":        "create_module",
			"description": "Create src/<name>.rs and declare it in lib.rs or main.rs",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":    map[string]string{"type": "string"},
					"content": map[string]string{"type": "string", "description": "Initial module contents"},
				},
				"required": []string{"name"},
			},
		},
		{
			"name":        "move_items",
			"description": "Move a line range from one workspace file to another",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"from_path":  map[string]string{"type": "string"},
					"to_path":    map[string]string{"type": "string"},
					"start_line": map[string]string{"type": "integer", "description": "One-based, inclusive"},
					"end_line":   map[string]string{"type": "integer", "description": "One-based, inclusive"},
				},
				"required": []string{"from_path", "to_path", "start_line", "end_line"},
			},
		},
		{
			"name":        "capabilities",
			"description": "Advertise the inspection views the current toolchain can run",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"gating_mode": map[string]string{"type": "string", "description": "strict or lenient, overriding the configured mode"},
				},
			},
		},
		{
			"name":        "inspect",
			"description": "Run a curated inspection view (def, types, mir, llvm-ir, asm) for a symbol",
			"inputSchema": inspectSchema(map[string]any{
				"view": map[string]string{"type": "string", "description": "def, types, mir, llvm-ir, or asm"},
			}, "view", "file_path"),
		},
		{
			"name":        "inspect_mir",
			"description": "Show the MIR of the function at a position (nightly toolchain)",
			"inputSchema": inspectSchema(nil, "file_path"),
		},
		{
			"name":        "inspect_llvm_ir",
			"description": "Show the LLVM IR of the function at a position",
			"inputSchema": inspectSchema(nil, "file_path"),
		},
		{
			"name":        "inspect_asm",
			"description": "Show the generated assembly of the function at a position",
			"inputSchema": inspectSchema(nil, "file_path"),
		},
	}
}

func positionSchema(extra map[string]any, required ...string) map[string]any {
	props := map[string]any{
		"file_path": map[string]string{"type": "string", "description": "Path relative to the workspace root"},
		"line":      map[string]string{"type": "integer", "description": "Zero-based line"},
		"character": map[string]string{"type": "integer", "description": "Zero-based column"},
	}
	for k, v := range extra {
		props[k] = v
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func inspectSchema(extra map[string]any, required ...string) map[string]any {
	props := map[string]any{
		"file_path":   map[string]string{"type": "string"},
		"line":        map[string]string{"type": "integer", "description": "Zero-based line of the symbol"},
		"character":   map[string]string{"type": "integer"},
		"symbol_name": map[string]string{"type": "string", "description": "Symbol path when no position is given"},
		"opt_level":   map[string]string{"type": "string", "description": "rustc opt-level, e.g. 0 or 3"},
		"target":      map[string]string{"type": "string", "description": "Target triple"},
		"gating_mode": map[string]string{"type": "string", "description": "strict or lenient"},
	}
	for k, v := range extra {
		props[k] = v
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func emptySchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

var toolNames = func() map[string]bool {
	names := make(map[string]bool)
	for _, def := range ToolDefinitions() {
		names[def["name"].(string)] = true
	}
	return names
}()

func knownTool(name string) bool {
	return toolNames[name]
}
