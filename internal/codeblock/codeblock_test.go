package codeblock

import "testing"

func TestExtractExecute(t *testing.T) {
	input := "> execute\n```python\nprint(\"hi\")\n```\n"
	blocks := Extract(input)
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	b := blocks[0]
	if b.Action != ActionExecute {
		t.Errorf("expected Execute action, got %s", b.Action)
	}
	if b.Language != LanguagePython {
		t.Errorf("expected Python language, got %s", b.Language)
	}
	if b.Code != "print(\"hi\")\n" {
		t.Errorf("unexpected code: %q", b.Code)
	}
}

func TestExtractSave(t *testing.T) {
	input := "> save: `out.txt`\n```\nhello\n```\n"
	blocks := Extract(input)
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	b := blocks[0]
	if b.Action != ActionSave {
		t.Errorf("expected Save action, got %s", b.Action)
	}
	if b.Filename != "out.txt" {
		t.Errorf("expected filename out.txt, got %q", b.Filename)
	}
}

func TestExtractIgnoresUnannotatedBlocks(t *testing.T) {
	input := "some text\n```python\nprint(1)\n```\n"
	blocks := Extract(input)
	if len(blocks) != 0 {
		t.Fatalf("expected 0 blocks for unannotated code, got %d", len(blocks))
	}
}

func TestExtractShellLanguage(t *testing.T) {
	input := "> execute\n```sh\nls -la\n```\n"
	blocks := Extract(input)
	if len(blocks) != 1 || blocks[0].Language != LanguageShell {
		t.Fatalf("expected single Shell block, got %+v", blocks)
	}
}

func TestExtractMultipleBlocksResetsState(t *testing.T) {
	input := "> execute\n```python\nprint(1)\n```\nsome prose in between\n```python\nprint(2)\n```\n"
	blocks := Extract(input)
	if len(blocks) != 1 {
		t.Fatalf("expected only the annotated block to be extracted, got %d", len(blocks))
	}
}
