package reference

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// add computes elementwise addition with standard broadcasting: operands are
// right-aligned, missing axes count as 1, and 1-sized axes repeat.
func add(x, y *Tensor) (*Tensor, error) {
	rank := max(x.Rank(), y.Rank())
	xd, yd := leftPadOnes(x.Dims, rank), leftPadOnes(y.Dims, rank)
	outDims := make([]int, rank)
	for axis := range outDims {
		switch {
		case xd[axis] == yd[axis]:
			outDims[axis] = xd[axis]
		case xd[axis] == 1:
			outDims[axis] = yd[axis]
		case yd[axis] == 1:
			outDims[axis] = xd[axis]
		default:
			return nil, errors.Errorf("cannot broadcast %v with %v", x.Dims, y.Dims)
		}
	}
	out := New(outDims...)
	xs, ys := strides(xd), strides(yd)
	coords := make([]int, rank)
	for i := range out.Data {
		xi, yi := 0, 0
		for axis, c := range coords {
			if xd[axis] > 1 {
				xi += c * xs[axis]
			}
			if yd[axis] > 1 {
				yi += c * ys[axis]
			}
		}
		out.Data[i] = x.Data[xi] + y.Data[yi]
		inc(coords, outDims)
	}
	return out, nil
}

func leftPadOnes(dims []int, rank int) []int {
	padded := make([]int, rank)
	pad := rank - len(dims)
	for axis := range padded {
		if axis < pad {
			padded[axis] = 1
		} else {
			padded[axis] = dims[axis-pad]
		}
	}
	return padded
}

// inc advances coords odometer-style within dims.
func inc(coords, dims []int) {
	for axis := len(coords) - 1; axis >= 0; axis-- {
		coords[axis]++
		if coords[axis] < dims[axis] {
			return
		}
		coords[axis] = 0
	}
}

// windowOut returns the output size of a strided window over one axis.
func windowOut(in, kernel, stride, padding, dilation int) (int, error) {
	numerator := in + 2*padding - dilation*(kernel-1) - 1
	if numerator < 0 {
		return 0, errors.Errorf("window of size %d does not fit input of size %d with padding %d",
			dilation*(kernel-1)+1, in, padding)
	}
	return numerator/stride + 1, nil
}

// conv2d computes a grouped 2D convolution over an NCHW input with zero
// padding. The weight is laid out (outChannels, inChannels/groups, kH, kW).
func conv2d(x, weight, bias *Tensor, stride, padding, dilation [2]int, groups int) (*Tensor, error) {
	if x.Rank() != 4 {
		return nil, errors.Errorf("conv2d: input must be rank 4, got %v", x.Dims)
	}
	if weight.Rank() != 4 {
		return nil, errors.Errorf("conv2d: weight must be rank 4, got %v", weight.Dims)
	}
	batch, inC, inH, inW := x.Dims[0], x.Dims[1], x.Dims[2], x.Dims[3]
	outC, wInC, kH, kW := weight.Dims[0], weight.Dims[1], weight.Dims[2], weight.Dims[3]
	if inC%groups != 0 || outC%groups != 0 {
		return nil, errors.Errorf("conv2d: channels (%d in, %d out) must be divisible by groups=%d", inC, outC, groups)
	}
	if wInC != inC/groups {
		return nil, errors.Errorf("conv2d: weight %v does not match %d input channels in %d groups", weight.Dims, inC, groups)
	}
	outH, err := windowOut(inH, kH, stride[0], padding[0], dilation[0])
	if err != nil {
		return nil, errors.WithMessage(err, "conv2d: height")
	}
	outW, err := windowOut(inW, kW, stride[1], padding[1], dilation[1])
	if err != nil {
		return nil, errors.WithMessage(err, "conv2d: width")
	}

	out := New(batch, outC, outH, outW)
	groupIn, groupOut := inC/groups, outC/groups
	for b := 0; b < batch; b++ {
		for oc := 0; oc < outC; oc++ {
			icBase := (oc / groupOut) * groupIn
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					sum := bias.Data[oc]
					for ic := 0; ic < groupIn; ic++ {
						for kh := 0; kh < kH; kh++ {
							ih := oh*stride[0] - padding[0] + kh*dilation[0]
							if ih < 0 || ih >= inH {
								continue
							}
							for kw := 0; kw < kW; kw++ {
								iw := ow*stride[1] - padding[1] + kw*dilation[1]
								if iw < 0 || iw >= inW {
									continue
								}
								xi := ((b*inC+icBase+ic)*inH+ih)*inW + iw
								wi := ((oc*wInC+ic)*kH+kh)*kW + kw
								sum += x.Data[xi] * weight.Data[wi]
							}
						}
					}
					out.Data[((b*outC+oc)*outH+oh)*outW+ow] = sum
				}
			}
		}
	}
	return out, nil
}

// maxPool2d computes max pooling over the last two axes of a rank-3 or
// rank-4 input. Padded positions count as negative infinity.
func maxPool2d(x *Tensor, kernel, stride, padding, dilation [2]int) (*Tensor, error) {
	rank := x.Rank()
	if rank != 3 && rank != 4 {
		return nil, errors.Errorf("max_pool2d: input must be rank 3 or 4, got %v", x.Dims)
	}
	inH, inW := x.Dims[rank-2], x.Dims[rank-1]
	lead := elemCount(x.Dims[:rank-2])
	outH, err := windowOut(inH, kernel[0], stride[0], padding[0], dilation[0])
	if err != nil {
		return nil, errors.WithMessage(err, "max_pool2d: height")
	}
	outW, err := windowOut(inW, kernel[1], stride[1], padding[1], dilation[1])
	if err != nil {
		return nil, errors.WithMessage(err, "max_pool2d: width")
	}

	outDims := append([]int{}, x.Dims...)
	outDims[rank-2], outDims[rank-1] = outH, outW
	out := New(outDims...)
	for l := 0; l < lead; l++ {
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				m := math32.Inf(-1)
				for kh := 0; kh < kernel[0]; kh++ {
					ih := oh*stride[0] - padding[0] + kh*dilation[0]
					if ih < 0 || ih >= inH {
						continue
					}
					for kw := 0; kw < kernel[1]; kw++ {
						iw := ow*stride[1] - padding[1] + kw*dilation[1]
						if iw < 0 || iw >= inW {
							continue
						}
						m = math32.Max(m, x.Data[(l*inH+ih)*inW+iw])
					}
				}
				out.Data[(l*outH+oh)*outW+ow] = m
			}
		}
	}
	return out, nil
}

// adaptiveAvgPool2d averages over automatically sized windows so the last two
// axes come out exactly (outH, outW).
func adaptiveAvgPool2d(x *Tensor, outH, outW int) (*Tensor, error) {
	rank := x.Rank()
	if rank != 3 && rank != 4 {
		return nil, errors.Errorf("adaptive_avg_pool2d: input must be rank 3 or 4, got %v", x.Dims)
	}
	if outH < 1 || outW < 1 {
		return nil, errors.Errorf("adaptive_avg_pool2d: output size (%d, %d) must be positive", outH, outW)
	}
	inH, inW := x.Dims[rank-2], x.Dims[rank-1]
	lead := elemCount(x.Dims[:rank-2])

	outDims := append([]int{}, x.Dims...)
	outDims[rank-2], outDims[rank-1] = outH, outW
	out := New(outDims...)
	for l := 0; l < lead; l++ {
		for oh := 0; oh < outH; oh++ {
			hStart, hEnd := (oh*inH)/outH, ((oh+1)*inH+outH-1)/outH
			for ow := 0; ow < outW; ow++ {
				wStart, wEnd := (ow*inW)/outW, ((ow+1)*inW+outW-1)/outW
				var sum float32
				for ih := hStart; ih < hEnd; ih++ {
					for iw := wStart; iw < wEnd; iw++ {
						sum += x.Data[(l*inH+ih)*inW+iw]
					}
				}
				count := float32((hEnd - hStart) * (wEnd - wStart))
				out.Data[(l*outH+oh)*outW+ow] = sum / count
			}
		}
	}
	return out, nil
}

// batchNorm2d normalizes each channel of an NCHW input with its batch
// statistics.
func batchNorm2d(x *Tensor, features int) (*Tensor, error) {
	if x.Rank() != 4 {
		return nil, errors.Errorf("batch_norm2d: input must be rank 4, got %v", x.Dims)
	}
	batch, channels, inH, inW := x.Dims[0], x.Dims[1], x.Dims[2], x.Dims[3]
	if channels != features {
		return nil, errors.Errorf("batch_norm2d: input has %d channels, expected %d", channels, features)
	}

	const eps = 1e-5
	out := x.Clone()
	perChannel := batch * inH * inW
	for c := 0; c < channels; c++ {
		var mean float32
		for b := 0; b < batch; b++ {
			base := (b*channels + c) * inH * inW
			for i := 0; i < inH*inW; i++ {
				mean += x.Data[base+i]
			}
		}
		mean /= float32(perChannel)

		var variance float32
		for b := 0; b < batch; b++ {
			base := (b*channels + c) * inH * inW
			for i := 0; i < inH*inW; i++ {
				d := x.Data[base+i] - mean
				variance += d * d
			}
		}
		variance /= float32(perChannel)

		invStd := 1 / math32.Sqrt(variance+eps)
		for b := 0; b < batch; b++ {
			base := (b*channels + c) * inH * inW
			for i := 0; i < inH*inW; i++ {
				out.Data[base+i] = (x.Data[base+i] - mean) * invStd
			}
		}
	}
	return out, nil
}

// linear applies a fully connected layer to the last axis. The weight is laid
// out (outFeatures, inFeatures).
func linear(x, weight, bias *Tensor) (*Tensor, error) {
	if x.Rank() < 1 {
		return nil, errors.Errorf("linear: input must have rank >= 1, got %v", x.Dims)
	}
	outF, inF := weight.Dims[0], weight.Dims[1]
	last := x.Dims[x.Rank()-1]
	if last != inF {
		return nil, errors.Errorf("linear: input %v does not match weight %v", x.Dims, weight.Dims)
	}

	lead := elemCount(x.Dims[:x.Rank()-1])
	outDims := append([]int{}, x.Dims...)
	outDims[len(outDims)-1] = outF
	out := New(outDims...)
	for l := 0; l < lead; l++ {
		for o := 0; o < outF; o++ {
			sum := bias.Data[o]
			for i := 0; i < inF; i++ {
				sum += x.Data[l*inF+i] * weight.Data[o*inF+i]
			}
			out.Data[l*outF+o] = sum
		}
	}
	return out, nil
}

// relu clamps negative entries to zero.
func relu(x *Tensor) *Tensor {
	out := x.Clone()
	for i, v := range out.Data {
		out.Data[i] = math32.Max(0, v)
	}
	return out
}

// transpose swaps two axes, materializing the permuted layout.
func transpose(x *Tensor, axis0, axis1 int) (*Tensor, error) {
	rank := x.Rank()
	if axis0 < 0 || axis0 >= rank || axis1 < 0 || axis1 >= rank {
		return nil, errors.Errorf("transpose: axes (%d, %d) out of range for %v", axis0, axis1, x.Dims)
	}
	outDims := append([]int{}, x.Dims...)
	outDims[axis0], outDims[axis1] = outDims[axis1], outDims[axis0]
	out := New(outDims...)
	xs := strides(x.Dims)
	coords := make([]int, rank)
	for i := range out.Data {
		xi := 0
		for axis, c := range coords {
			src := axis
			switch axis {
			case axis0:
				src = axis1
			case axis1:
				src = axis0
			}
			xi += c * xs[src]
		}
		out.Data[i] = x.Data[xi]
		inc(coords, outDims)
	}
	return out, nil
}

// flatten merges the axes in [start, end] (inclusive, negatives from the
// end) into a single axis. The data layout is unchanged.
func flatten(x *Tensor, start, end int) (*Tensor, error) {
	rank := x.Rank()
	normalize := func(axis int) (int, error) {
		if axis < -rank || axis >= rank {
			return -1, errors.Errorf("flatten: axis %d out of range for %v", axis, x.Dims)
		}
		if axis < 0 {
			axis += rank
		}
		return axis, nil
	}
	s, err := normalize(start)
	if err != nil {
		return nil, err
	}
	e, err := normalize(end)
	if err != nil {
		return nil, err
	}
	if s > e {
		return nil, errors.Errorf("flatten: start %d is after end %d", start, end)
	}
	outDims := append([]int{}, x.Dims[:s]...)
	outDims = append(outDims, elemCount(x.Dims[s:e+1]))
	outDims = append(outDims, x.Dims[e+1:]...)
	return x.WithDims(outDims...)
}

// reshape views the data under a new shape, resolving one optional -1 entry
// from the element count.
func reshape(x *Tensor, target []int) (*Tensor, error) {
	outDims := append([]int{}, target...)
	inferAxis, known := -1, 1
	for axis, dim := range outDims {
		switch {
		case dim == -1:
			if inferAxis >= 0 {
				return nil, errors.Errorf("reshape: more than one -1 in %v", target)
			}
			inferAxis = axis
		case dim < 0:
			return nil, errors.Errorf("reshape: invalid size %d in %v", dim, target)
		default:
			known *= dim
		}
	}
	total := len(x.Data)
	if inferAxis >= 0 {
		if known == 0 || total%known != 0 {
			return nil, errors.Errorf("reshape: cannot infer -1 in %v from %d elements", target, total)
		}
		outDims[inferAxis] = total / known
	}
	return x.WithDims(outDims...)
}
