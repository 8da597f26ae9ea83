package rimage

import (
	"gonum.org/v1/gonum/mat"
)

// sobelScale turns a Sobel response into a per-pixel derivative.
const sobelScale = 1. / 8.

// SobelGradients returns the x and y derivatives of m, scaled to intensity units per pixel.
func SobelGradients(m *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	sobelX := GetSobelX()
	sobelY := GetSobelY()
	gX, err := ConvolveGrayFloat64(m, &sobelX)
	if err != nil {
		return nil, nil, err
	}
	gY, err := ConvolveGrayFloat64(m, &sobelY)
	if err != nil {
		return nil, nil, err
	}
	gX.Scale(sobelScale, gX)
	gY.Scale(sobelScale, gY)
	return gX, gY, nil
}

// HessianDeterminant computes the Hessian components for each pixel and returns the determinant
// Ixx*Iyy - Ixy^2. The determinant is strongly negative at saddle points such as the X-junctions
// of a checkerboard.
func HessianDeterminant(m *mat.Dense) (*mat.Dense, error) {
	gX, gY, err := SobelGradients(m)
	if err != nil {
		return nil, err
	}
	gXX, gXY, err := SobelGradients(gX)
	if err != nil {
		return nil, err
	}
	_, gYY, err := SobelGradients(gY)
	if err != nil {
		return nil, err
	}
	nRows, nCols := m.Dims()
	m1 := mat.NewDense(nRows, nCols, nil)
	m2 := mat.NewDense(nRows, nCols, nil)
	out := mat.NewDense(nRows, nCols, nil)
	m1.MulElem(gXX, gYY)
	m2.MulElem(gXY, gXY)
	out.Sub(m1, m2)
	return out, nil
}
