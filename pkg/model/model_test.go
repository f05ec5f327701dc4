package model

import "testing"

func TestTurnCloneIsIndependent(t *testing.T) {
	original := Turn{Id: 1, Text: "hi", Words: []Word{{Text: "hi"}}}
	clone := original.Clone()
	clone.Words[0].Text = "changed"

	if original.Words[0].Text != "hi" {
		t.Error("Clone shared the underlying Words slice with the original")
	}
}

func TestHasWords(t *testing.T) {
	if (Turn{}).HasWords() {
		t.Error("empty turn should report HasWords() == false")
	}
	if !(Turn{Words: []Word{{Text: "x"}}}).HasWords() {
		t.Error("turn with words should report HasWords() == true")
	}
}
