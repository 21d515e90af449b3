package botauth

import "testing"

func TestVerify_AcceptsTokenMintedForSameMeeting(t *testing.T) {
	token := Mint("s3cret", "m1")
	if !Verify("s3cret", "m1", token) {
		t.Fatal("expected token minted for m1 to verify against m1")
	}
}

func TestVerify_RejectsTokenMintedForDifferentMeeting(t *testing.T) {
	token := Mint("s3cret", "m1")
	if Verify("s3cret", "m2", token) {
		t.Fatal("expected token minted for m1 to be rejected for m2")
	}
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	token := Mint("s3cret", "m1")
	if Verify("other-secret", "m1", token) {
		t.Fatal("expected token minted with a different secret to be rejected")
	}
}

func TestVerify_EmptySecretDisablesCheck(t *testing.T) {
	if !Verify("", "m1", "anything") {
		t.Fatal("expected empty secret to bypass verification")
	}
}
