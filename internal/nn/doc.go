// Package nn contains the emotion classifier network, its loss and the SGD
// optimizer used to train it.
//
// The network is a single hidden layer perceptron over the flattened
// grayscale image:
//
//	input (size*size) -> dense(hidden) -> ReLU -> dense(classes) -> softmax
//
// Parameters are exposed as named flat slices so the optimizer and the
// checkpoint layer can work on them without knowing the architecture.
package nn
