//go:build gocv
// +build gocv

package vision

import (
	"errors"
	"image"

	"gocv.io/x/gocv"
)

// thumbnail уменьшает изображение средствами OpenCV и кодирует в JPEG.
func thumbnail(data []byte, maxSide int) ([]byte, error) {
	mat, err := decodeToMat(data)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	// Приводим изображение к размеру превью
	if mat.Cols() > maxSide || mat.Rows() > maxSide {
		scale := float64(maxSide) / float64(max(mat.Cols(), mat.Rows()))
		newW := max(1, int(float64(mat.Cols())*scale))
		newH := max(1, int(float64(mat.Rows())*scale))
		resized := gocv.NewMat()
		gocv.Resize(mat, &resized, image.Pt(newW, newH), 0, 0, gocv.InterpolationArea)
		mat.Close()
		mat = resized
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, 85})
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// decodeToMat превращает байты изображения в gocv.Mat.
func decodeToMat(data []byte) (gocv.Mat, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err == nil && !mat.Empty() {
		return mat, nil
	}
	mat.Close()
	if err != nil {
		return gocv.Mat{}, err
	}
	return gocv.Mat{}, errors.New("failed to decode image")
}
