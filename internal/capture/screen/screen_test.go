package screen

import "testing"

func TestConvertBGRA(t *testing.T) {
	data := []byte{
		10, 20, 30, 0, // B G R X
		1, 2, 3, 0,
	}
	img := convertBGRA(data, 2, 1)

	want := []uint8{30, 20, 10, 255, 3, 2, 1, 255}
	for i, v := range want {
		if img.Pix[i] != v {
			t.Fatalf("Pix[%d] = %d, want %d", i, img.Pix[i], v)
		}
	}
}

func TestConvertBGRAShortData(t *testing.T) {
	img := convertBGRA([]byte{1, 2, 3, 0, 9}, 2, 2)
	if img.Bounds().Dx() != 2 || img.Bounds().Dy() != 2 {
		t.Fatalf("unexpected bounds %v", img.Bounds())
	}
	if img.Pix[0] != 3 || img.Pix[3] != 255 {
		t.Errorf("first pixel not converted: %v", img.Pix[:4])
	}
	if img.Pix[4] != 0 || img.Pix[7] != 0 {
		t.Errorf("pixels past the data should stay zero: %v", img.Pix[4:8])
	}
}
